package forest

import (
	"context"
	"strings"

	"mintforest/internal/model"
)

// completeTasks submits every uncompleted task whose category is handled.
// Unhandled categories are logged and skipped, never failed.
func (s *Session) completeTasks(ctx context.Context) (model.StepResult, error) {
	tasks, err := s.api.TaskList(ctx)
	if err != nil {
		return model.StepResult{}, err
	}

	var interacted bool
	for _, task := range tasks {
		if task.Claimed || s.ignoredTaskIDs[task.ID] {
			continue
		}

		switch {
		case strings.HasPrefix(task.Spec, "twitter"):
			amount, err := s.api.SubmitTask(ctx, task.ID)
			if err != nil {
				return model.StepResult{Interacted: interacted}, err
			}
			interacted = true
			s.log("info", "task completed", map[string]any{
				"task":   task.Name,
				"amount": amount,
			})

		case task.ID == discordBindTaskID:
			if !s.discordBound() {
				s.log("warn", "discord task skipped: no bound discord account", map[string]any{"task": task.Name})
				continue
			}
			amount, err := s.api.SubmitDiscordTask(ctx)
			if err != nil {
				return model.StepResult{Interacted: interacted}, err
			}
			interacted = true
			s.log("info", "task completed", map[string]any{
				"task":   task.Name,
				"amount": amount,
			})

		default:
			s.log("warn", "can't complete task", map[string]any{"task": task.Name})
		}
	}
	return model.StepResult{Interacted: interacted}, nil
}

// claimEnergy claims every non-frozen reward batch and opens every unopened
// energy container, then refreshes the snapshot.
func (s *Session) claimEnergy(ctx context.Context) (model.StepResult, error) {
	var claimed bool

	batches, err := s.api.EnergyList(ctx)
	if err != nil {
		return model.StepResult{}, err
	}
	for _, batch := range batches {
		if batch.Freeze {
			continue
		}
		amount, err := s.api.ClaimEnergy(ctx, batch)
		if err != nil {
			return model.StepResult{Interacted: claimed}, err
		}
		claimed = true
		s.log("info", "energy claimed", map[string]any{"amount": amount})
	}

	assets, err := s.api.Assets(ctx)
	if err != nil {
		return model.StepResult{Interacted: claimed}, err
	}
	for _, asset := range assets {
		if asset.Type != "energy" || asset.Opened {
			continue
		}
		amount, err := s.api.OpenBox(ctx, asset.ID)
		if err != nil {
			return model.StepResult{Interacted: claimed}, err
		}
		claimed = true
		s.log("info", "box opened", map[string]any{"amount": amount})
	}

	if err := s.RefreshUser(ctx); err != nil {
		return model.StepResult{Interacted: claimed}, err
	}
	return model.StepResult{Interacted: claimed}, nil
}

// injectAll submits the accumulated balance into the tree. The balance check
// runs against a fresh snapshot.
func (s *Session) injectAll(ctx context.Context) (model.StepResult, error) {
	if err := s.RefreshUser(ctx); err != nil {
		return model.StepResult{}, err
	}
	amount := s.account.User.Energy
	if amount == 0 {
		return model.StepResult{}, nil
	}

	if err := s.api.Inject(ctx, amount, s.account.Address); err != nil {
		return model.StepResult{}, err
	}
	s.log("info", "energy injected", map[string]any{"amount": amount})

	if err := s.RefreshUser(ctx); err != nil {
		return model.StepResult{Interacted: true}, err
	}
	return model.StepResult{Interacted: true}, nil
}
