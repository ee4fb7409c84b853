package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"grimm.is/ruledesk/internal/client"
	"grimm.is/ruledesk/internal/events"
	"grimm.is/ruledesk/internal/logging"
	"grimm.is/ruledesk/internal/tui"
)

// WatchOptions configures RunWatch.
type WatchOptions struct {
	ConfigFile string
	Remote     RemoteFlags
}

// RunWatch shows the ruleset full screen. Against a remote server the view
// refreshes whenever a submission finishes; locally only r refreshes.
func RunWatch(ctx context.Context, opts WatchOptions) error {
	b, err := openBackend(opts.ConfigFile, opts.Remote)
	if err != nil {
		return err
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var feed chan tui.FeedEvent
	if opts.Remote.Enabled() {
		feed = make(chan tui.FeedEvent, 16)
		api := opts.Remote.Client()
		go func() {
			defer close(feed)
			err := api.WatchEvents(ctx, []string{string(events.EventMutationFinished)}, func(e client.Event) {
				select {
				case feed <- feedEvent(e):
				case <-ctx.Done():
				}
			})
			if err != nil && ctx.Err() == nil {
				logging.Warn("event feed stopped", "error", err)
			}
		}()
	}

	p := tea.NewProgram(tui.NewWatchModel(ctx, b, feed), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()
	return err
}

// feedEvent turns a mutation outcome into one line of the live view.
func feedEvent(e client.Event) tui.FeedEvent {
	fe := tui.FeedEvent{At: e.Timestamp, Topic: e.Topic, Summary: e.Topic}
	if e.Topic != string(events.EventMutationFinished) {
		return fe
	}

	var data events.MutationData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return fe
	}
	fe.Refresh = true
	fe.Summary = fmt.Sprintf("%s %s: %s", data.Operation, data.Rule, data.State)
	if data.Handle != 0 {
		fe.Summary += fmt.Sprintf(" (handle %d)", data.Handle)
	}
	if data.Error != "" {
		fe.Summary += ": " + data.Error
	}
	return fe
}
