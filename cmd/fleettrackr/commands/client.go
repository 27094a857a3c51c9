package commands

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"fleettrackr/api"
	"fleettrackr/config"
	"fleettrackr/renewal"
	"fleettrackr/session"
	"fleettrackr/store"
	"fleettrackr/syncer"
	"fleettrackr/workflow"
)

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	labelStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("170")).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// clientApp is everything one signed-in invocation needs: the session, the
// request store, the shared poll service and the action coordinator.
type clientApp struct {
	cfg    *config.Config
	sess   *session.Session
	client *api.Client
	store  *store.Store
	sync   *syncer.Service
	coord  *workflow.Coordinator
}

func openClient(overrides ...func(*config.Config)) (*clientApp, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	for _, fn := range overrides {
		fn(cfg)
	}
	sess, err := session.New(cfg.API.Token)
	if err != nil {
		return nil, err
	}

	logger := slog.Default()
	client, err := api.NewClient(cfg.API.BaseURL, sess, api.WithTimeout(cfg.API.Timeout), api.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	st := store.New(client)
	syncSvc := syncer.NewService(syncer.Config{Interval: cfg.Sync.Interval, Fatal: workflow.Fatal}, st, logger)

	return &clientApp{
		cfg:    cfg,
		sess:   sess,
		client: client,
		store:  st,
		sync:   syncSvc,
		coord:  workflow.NewCoordinator(sess.Actor(), st, client, syncSvc, logger),
	}, nil
}

func (a *clientApp) actor() renewal.Actor {
	return a.sess.Actor()
}

// PrintError renders err as the alert the actor sees.
func PrintError(w io.Writer, err error) {
	alert, ok := workflow.AlertFor(err)
	if !ok {
		return
	}
	writeAlert(w, alert)
}

func writeAlert(w io.Writer, alert workflow.Alert) {
	style := errorStyle
	switch alert.Level {
	case workflow.LevelInfo:
		style = infoStyle
	case workflow.LevelWarn:
		style = warnStyle
	}

	msg := alert.Message
	if alert.Redirect {
		msg += " Run 'fleettrackr login'."
	}
	if alert.Retryable {
		msg += mutedStyle.Render(" (retry)")
	}
	fmt.Fprintf(w, "%s %s\n", style.Render("["+string(alert.Level)+"]"), msg)
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatDate(*t)
}

func formatActions(actions []renewal.Action) string {
	if len(actions) == 0 {
		return "-"
	}
	names := make([]string, 0, len(actions))
	for _, a := range actions {
		names = append(names, commandFor(a))
	}
	return strings.Join(names, ",")
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
