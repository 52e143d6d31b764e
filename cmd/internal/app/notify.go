package app

import (
	"context"
	"net/http"

	"github.com/Aaliyah097/bochat/cmd/internal/notify"
)

// newDispatcher picks the FCM pusher when credentials or a project id are configured,
// and the logging pusher otherwise.
func newDispatcher(ctx context.Context, cfg Config, log Logger, q notify.Queue, devices notify.DeviceRegistry) (*notify.Dispatcher, error) {
	opts := notify.DispatcherOptions{
		Queue:        q,
		Devices:      devices,
		Group:        cfg.NotifyGroup,
		Workers:      cfg.NotifyWorkers,
		PollInterval: cfg.NotifyPollInterval,
		MaxBackoff:   cfg.NotifyMaxBackoff,
		PushTimeout:  cfg.NotifyPushTimeout,
		TokenTTL:     cfg.NotifyTokenTTL,
		Logger:       log,
	}

	projectID := cfg.FCMProjectID
	if cfg.GoogleCredentialsFile != "" {
		// The token source outlives New, so it must not inherit a cancellable context.
		sa, err := notify.LoadServiceAccount(context.WithoutCancel(ctx), cfg.GoogleCredentialsFile)
		if err != nil {
			return nil, err
		}
		opts.Tokens = sa.Tokens
		if projectID == "" {
			projectID = sa.ProjectID
		}
	}

	switch {
	case projectID != "":
		p, err := notify.NewFCMPusher(&http.Client{}, projectID, cfg.FCMEndpoint)
		if err != nil {
			return nil, err
		}
		if opts.Tokens == nil {
			log.Warn("notify.fcm.no_credentials", "project_id", projectID)
		}
		opts.Pusher = p
		log.Info("notify.pusher.fcm", "project_id", projectID)
	default:
		opts.Pusher = notify.LogPusher{Log: log}
		log.Info("notify.pusher.dry_run")
	}
	return notify.NewDispatcher(opts)
}
