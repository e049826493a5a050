package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tg-postplanner/internal/config"
	"tg-postplanner/internal/logger"
	"tg-postplanner/internal/metrics"

	"github.com/mymmrac/telego"
)

var allowedUpdates = []string{"message", "callback_query"}

// WebhookServer serves the webhook, the debug page and the metrics endpoint
type WebhookServer struct {
	server   *http.Server
	certFile string
	keyFile  string
}

// Start blocks until the server stops; a graceful shutdown returns nil
func (ws *WebhookServer) Start() error {
	logger.Infof("Starting HTTP server on %s", ws.server.Addr)

	var err error
	if ws.certFile != "" && ws.keyFile != "" {
		logger.Infof("Using TLS with cert: %s, key: %s", ws.certFile, ws.keyFile)
		err = ws.server.ListenAndServeTLS(ws.certFile, ws.keyFile)
	} else {
		logger.Infof("Running without TLS. Make sure you have a HTTPS proxy in front of this server")
		err = ws.server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (ws *WebhookServer) Shutdown(ctx context.Context) error {
	return ws.server.Shutdown(ctx)
}

// Handler exposes the mux for tests
func (ws *WebhookServer) Handler() http.Handler {
	return ws.server.Handler
}

func newMux(cfg *config.Config) *http.ServeMux {
	mux := http.NewServeMux()
	if cfg.Metrics.Enabled {
		path := cfg.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		mux.Handle(path, metrics.Handler())
		logger.Infof("Metrics exposed at %s", path)
	}
	return mux
}

func newServer(cfg *config.Config, mux *http.ServeMux) *WebhookServer {
	listenPort := cfg.Bot.Webhook.ListenPort
	if listenPort == "" {
		listenPort = "8443"
		logger.Infof("Using default listen port: %s", listenPort)
	}

	return &WebhookServer{
		server: &http.Server{
			Addr:              "0.0.0.0:" + listenPort,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		certFile: cfg.Bot.Webhook.CertFile,
		keyFile:  cfg.Bot.Webhook.KeyFile,
	}
}

// webhookPath validates the endpoint and returns the path the mux listens on
func webhookPath(wh config.WebhookConfig) (string, error) {
	if wh.Endpoint == "" {
		return "", fmt.Errorf("webhook endpoint is required")
	}
	if (wh.CertFile == "" || wh.KeyFile == "") && !strings.HasPrefix(wh.Endpoint, "https://") {
		return "", fmt.Errorf("HTTPS configuration required: set cert_file and key_file in config or use a HTTPS proxy")
	}

	parsedURL, err := url.Parse(wh.Endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid webhook endpoint: %w", err)
	}
	if parsedURL.Path == "" {
		logger.Infof("No path specified in webhook endpoint, using default path: /webhook")
		return "/webhook", nil
	}
	return parsedURL.Path, nil
}

// SetupWebhook registers the webhook with Telegram and returns the server
// together with the update channel it feeds.
func SetupWebhook(ctx context.Context, bot *telego.Bot, cfg *config.Config, secretToken string) (*WebhookServer, <-chan telego.Update, error) {
	path, err := webhookPath(cfg.Bot.Webhook)
	if err != nil {
		return nil, nil, err
	}

	endpoint := cfg.Bot.Webhook.Endpoint
	logger.Infof("Setting webhook to: %s", endpoint)
	err = bot.SetWebhook(ctx, &telego.SetWebhookParams{
		URL:            endpoint,
		AllowedUpdates: allowedUpdates,
		SecretToken:    secretToken,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set webhook: %w", err)
	}

	if info, err := bot.GetWebhookInfo(ctx); err != nil {
		logger.Warningf("Failed to get webhook info: %v", err)
	} else {
		logger.Infof("Webhook info: URL=%s, HasCustomCert=%v, PendingUpdateCount=%d",
			info.URL, info.HasCustomCertificate, info.PendingUpdateCount)
		if info.LastErrorDate > 0 {
			logger.Warningf("Webhook last error: [%d] %s", info.LastErrorDate, info.LastErrorMessage)
		}
	}

	mux := newMux(cfg)
	if debugPath := cfg.Bot.Webhook.DebugPath; debugPath != "" {
		mux.HandleFunc(debugPath, debugHandler(bot, endpoint))
	}

	updates, err := bot.UpdatesViaWebhook(ctx, telego.WebhookHTTPServeMux(mux, path, secretToken))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get updates channel: %w", err)
	}

	return newServer(cfg, mux), updates, nil
}

func debugHandler(bot *telego.Bot, endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger.Debugf("Debug endpoint accessed: %s %s", r.Method, r.URL.Path)

		var b strings.Builder
		b.WriteString("Bot webhook server is running\n\n")
		if botUser, err := bot.GetMe(r.Context()); err == nil {
			fmt.Fprintf(&b, "Bot username: %s\n", botUser.Username)
		}
		fmt.Fprintf(&b, "Webhook endpoint: %s\n", endpoint)

		info, err := bot.GetWebhookInfo(r.Context())
		if err != nil {
			fmt.Fprintf(&b, "\nError getting webhook info: %v\n", err)
		} else {
			fmt.Fprintf(&b, "\nWebhook Info:\nURL: %s\nCustom Certificate: %v\nPending Updates: %d\n",
				info.URL, info.HasCustomCertificate, info.PendingUpdateCount)
			if info.LastErrorDate > 0 {
				errorTime := time.Unix(int64(info.LastErrorDate), 0)
				fmt.Fprintf(&b, "Last Error: [%s] %s\n", errorTime.Format("2006-01-02 15:04:05"), info.LastErrorMessage)
			}
		}

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(b.String()))
	}
}
