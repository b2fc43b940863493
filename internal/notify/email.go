package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"mintforest/internal/config"
	"mintforest/internal/logbus"
)

// EmailNotifier batches account events into summary mails so a large group
// does not produce one mail per account. Fatal alerts bypass the batch.
type EmailNotifier struct {
	cfg config.NotifyConfig
	bus *logbus.Bus

	mu     sync.Mutex
	queue  chan AccountFinishedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(cfg config.NotifyConfig, bus *logbus.Bus) (*EmailNotifier, error) {
	if err := validateSettings(cfg); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:           cfg,
		bus:           bus,
		queue:         make(chan AccountFinishedEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: cfg.SummaryWindow(),
		maxBatch:      80,
	}
	n.wg.Add(1)
	go n.loop()
	return n, nil
}

func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyAccountFinished(_ context.Context, evt AccountFinishedEvent) {
	select {
	case n.queue <- evt:
	default:
		n.log("warn", "notify dropped: queue full", map[string]any{
			"accountId": evt.AccountID,
			"status":    evt.Status,
		})
	}
}

func (n *EmailNotifier) NotifyRunFinished(ctx context.Context, sum RunSummary) {
	subject := fmt.Sprintf("Campaign finished: %d done, %d aborted, %d failed",
		sum.Done, sum.Aborted, sum.Failed)
	body := fmt.Sprintf("Run finished at %s\nGroups: %s\nDone: %d\nAborted: %d\nFailed: %d\n",
		time.UnixMilli(sum.At).Format("2006-01-02 15:04:05"),
		groupLabel(sum.Groups), sum.Done, sum.Aborted, sum.Failed)
	if err := n.send(ctx, subject, body, ""); err != nil {
		n.log("warn", "summary mail failed", map[string]any{"error": err.Error()})
	}
}

func (n *EmailNotifier) NotifyFatal(ctx context.Context, reason string) {
	subject := "Campaign stopped: fatal error"
	body := fmt.Sprintf("The campaign stopped at %s.\n\n%s\n",
		time.Now().Format("2006-01-02 15:04:05"), reason)
	if err := n.send(ctx, subject, body, ""); err != nil {
		n.log("warn", "fatal alert mail failed", map[string]any{"error": err.Error()})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []AccountFinishedEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if n.summaryWindow <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(ctx context.Context, reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]AccountFinishedEvent(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.sendBatch(ctx, reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
			// The run context is gone; the final batch still goes out.
			flush(context.Background(), "shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush(n.ctx, "max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush(n.ctx, "immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush(n.ctx, "idle")
		}
	}
}

func (n *EmailNotifier) sendBatch(ctx context.Context, reason string, events []AccountFinishedEvent) {
	htmlBody, textBody, err := buildBatchBody(events)
	if err != nil {
		n.log("warn", "batch mail build failed", map[string]any{"error": err.Error()})
		return
	}
	subject := fmt.Sprintf("Account results (%d)", len(events))
	if err := n.send(ctx, subject, textBody, htmlBody); err != nil {
		n.log("warn", "batch mail failed", map[string]any{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	n.log("info", "notification mail sent", map[string]any{
		"count":  len(events),
		"reason": reason,
		"to":     n.cfg.To,
	})
}

func (n *EmailNotifier) send(ctx context.Context, subject, textBody, htmlBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", msg.FormatAddress(n.cfg.From, "mint forest"))
	msg.SetHeader("To", n.cfg.To)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", textBody)
	if htmlBody != "" {
		msg.AddAlternative("text/html", htmlBody)
	}

	user := n.cfg.SMTPUser
	if user == "" {
		user = n.cfg.From
	}
	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, user, n.cfg.SMTPPassword)
	d.SSL = n.cfg.SMTPPort == 465
	return d.DialAndSend(msg)
}

func (n *EmailNotifier) log(level, msg string, fields map[string]any) {
	if n.bus != nil {
		n.bus.Log(level, msg, fields)
	}
}

func validateSettings(cfg config.NotifyConfig) error {
	if strings.TrimSpace(cfg.SMTPHost) == "" {
		return errors.New("smtpHost is required")
	}
	if _, err := mail.ParseAddress(cfg.From); err != nil {
		return errors.New("invalid from address")
	}
	if _, err := mail.ParseAddress(cfg.To); err != nil {
		return errors.New("invalid to address")
	}
	return nil
}

var batchHTMLTpl = template.Must(template.New("batch").Parse(`
<!doctype html>
<html>
  <body style="font-family:-apple-system,BlinkMacSystemFont,'Segoe UI',Roboto,Arial,sans-serif;">
    <h3 style="margin:0 0 12px;">Account results ({{ .Total }})</h3>
    <table cellspacing="0" cellpadding="6" border="0" style="border-collapse:collapse;font-size:13px;">
      <thead>
        <tr style="background:#fafbff;text-align:left;">
          <th>Time</th><th>Account</th><th>Group</th><th>Status</th><th>Attempts</th><th>Error</th>
        </tr>
      </thead>
      <tbody>
        {{ range .Rows }}
        <tr style="border-bottom:1px solid #eef0f6;">
          <td>{{ .At }}</td><td>{{ .Account }}</td><td>{{ .Group }}</td>
          <td>{{ .Status }}</td><td>{{ .Attempts }}</td><td>{{ .Error }}</td>
        </tr>
        {{ end }}
      </tbody>
    </table>
  </body>
</html>
`))

func buildBatchBody(events []AccountFinishedEvent) (htmlBody, textBody string, err error) {
	if len(events) == 0 {
		return "", "", errors.New("no events")
	}

	type row struct {
		At       string
		Account  string
		Group    string
		Status   string
		Attempts int
		Error    string
	}
	rows := make([]row, 0, len(events))
	for _, evt := range events {
		at := time.Now()
		if evt.At > 0 {
			at = time.UnixMilli(evt.At)
		}
		name := evt.Name
		if name == "" {
			name = evt.AccountID
		}
		rows = append(rows, row{
			At:       at.Format("15:04:05"),
			Account:  name,
			Group:    evt.Group,
			Status:   evt.Status,
			Attempts: evt.Attempts,
			Error:    evt.Error,
		})
	}

	data := struct {
		Total int
		Rows  []row
	}{Total: len(events), Rows: rows}

	var buf bytes.Buffer
	if err := batchHTMLTpl.Execute(&buf, data); err != nil {
		return "", "", err
	}

	text := new(strings.Builder)
	fmt.Fprintf(text, "Account results (%d)\n", len(events))
	for _, r := range rows {
		fmt.Fprintf(text, "- %s | %s | %s | %s | attempts %d", r.At, r.Account, r.Group, r.Status, r.Attempts)
		if r.Error != "" {
			fmt.Fprintf(text, " | %s", r.Error)
		}
		text.WriteString("\n")
	}
	return buf.String(), text.String(), nil
}

func groupLabel(groups []string) string {
	if len(groups) == 0 {
		return "all"
	}
	return strings.Join(groups, ", ")
}
