// Package app wires together the HTTP server and the simulated robot. It
// owns the robotsimd lifecycle: serving until the context is cancelled or a
// connected operator sends stop_server.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/large-farva/robotpi-teleop/internal/config"
	"github.com/large-farva/robotpi-teleop/internal/robotsim"
)

// Options holds everything the App needs from the caller.
type Options struct {
	Logger logrus.FieldLogger
	Cfg    config.Config
	Bind   string
}

// App is the robotsimd process.
type App struct {
	log    logrus.FieldLogger
	cfg    config.Config
	bind   string
	server *http.Server
	robot  *robotsim.Robot

	startedAt time.Time
	ready     chan struct{}
	addr      net.Addr
}

// New creates an App. Call Run to start serving.
func New(opts Options) *App {
	simOpts := robotsim.OptionsFromConfig(opts.Cfg.Sim)
	simOpts.Log = opts.Logger.WithField("component", "robot")
	return &App{
		log:       opts.Logger,
		cfg:       opts.Cfg,
		bind:      opts.Bind,
		startedAt: time.Now(),
		robot:     robotsim.New(simOpts),
		ready:     make(chan struct{}),
	}
}

// Robot exposes the simulated robot.
func (a *App) Robot() *robotsim.Robot { return a.robot }

// Addr blocks until the listener is up and returns its address.
func (a *App) Addr(ctx context.Context) (net.Addr, error) {
	select {
	case <-a.ready:
		return a.addr, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run starts the HTTP server and the robot loops. It blocks until ctx is
// cancelled, a client stops the server, or the listener fails.
func (a *App) Run(ctx context.Context) error {
	bind := a.bind
	if bind == "" {
		bind = a.cfg.Sim.Bind
	}
	if bind == "" {
		bind = "0.0.0.0:8765"
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/api/status", a.handleStatus)
	mux.HandleFunc("/api/version", a.handleVersion)
	mux.Handle("/ws", a.robot.Hub().Handler())
	mux.Handle("/", a.robot.Hub().Handler())

	a.server = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", bind)
	if err != nil {
		return err
	}
	a.addr = ln.Addr()
	close(a.ready)

	a.log.WithField("addr", ln.Addr().String()).Info("robot simulator listening")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.robot.Run(ctx)
	}()

	go func() {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown requested")
		case <-a.robot.Stopped():
			a.log.Warn("stopped by operator")
		}
		cancel()
		_ = a.server.Shutdown(context.Background())
	}()

	err = a.server.Serve(ln)
	<-done
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	Name          string          `json:"name"`
	State         string          `json:"state"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	Robot         robotsim.Status `json:"robot"`
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := a.robot.Status()
	resp := StatusResponse{
		Name:          "robotsimd",
		State:         stateOf(st),
		UptimeSeconds: int64(time.Since(a.startedAt).Seconds()),
		Robot:         st,
	}
	writeJSON(w, resp)
}

func (a *App) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{
		"version":    Version,
		"go_version": GoVersion,
		"built_at":   BuiltAt,
	})
}

func stateOf(st robotsim.Status) string {
	switch {
	case st.Auto:
		return "AUTO"
	case st.Moving:
		return "DRIVING"
	default:
		return "IDLE"
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
