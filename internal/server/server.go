// Package server wires every subsystem into one running process: the
// agent registry, per-agent runners, the system-AI coordinator, the
// IBL dispatcher and its tool/system/project nodes, and the configured
// ingress/egress channels. Grounded on the teacher's internal/server
// (a single Server struct with Start/Stop/ErrorChan/IsRunning, started
// as a background goroutine group rather than blocking in Start),
// narrowed to this core's components — no MCP, hooks, cron, jsvm, or
// ACP bridge, none of which spec.md's orchestration core calls for.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"agentcore/internal/autoreport"
	channelreg "agentcore/internal/channel"
	"agentcore/internal/channel/gmail"
	"agentcore/internal/channel/gui"
	"agentcore/internal/channel/nostr"
	"agentcore/internal/config"
	"agentcore/internal/ibl"
	"agentcore/internal/identity"
	"agentcore/internal/prompt"
	"agentcore/internal/provider"
	"agentcore/internal/provider/ollama"
	"agentcore/internal/registry"
	"agentcore/internal/runner"
	"agentcore/internal/store"
	"agentcore/internal/store/conversation"
	"agentcore/internal/store/task"
	"agentcore/internal/systemai"
	"agentcore/internal/tools/builtin"
	"agentcore/pkg/channel"
	"agentcore/pkg/logger"
)

// defaultProjectID names the single project this process hosts when
// the caller does not specify one. A deployment that wants several
// projects in the system-AI's cross-project reach runs one agentcored
// per project with a distinct ProjectID, each pointed at the same
// system_ai_memory.db path — system-AI's ProjectStores only needs the
// stores reachable from project agents it can route to in-process, so
// multi-process fan-out is an operational choice left to the
// deployment, not this package.
const defaultProjectID = "default"

// Config holds everything needed to bring up one agentcored process.
type Config struct {
	ProjectID  string
	ConfigPath string
}

// Server owns every long-lived component started for one process.
type Server struct {
	cfg       *config.Config
	projectID string

	mu      sync.Mutex
	running bool

	db       *store.DB
	metrics  *registry.Metrics
	agents   *registry.Registry
	channels *channelreg.Registry
	identity *identity.Set
	watcher  *config.Watcher

	runners  []*runner.Runner
	systemAI *systemai.Coordinator

	cancel  context.CancelFunc
	errChan chan error
}

// New loads cfg.ConfigPath and constructs a Server, performing no I/O
// beyond that load (opening stores, starting channels, and binding the
// metrics listener all happen in Start).
func New(scfg Config) (*Server, error) {
	cfg, err := config.Load(scfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	projectID := scfg.ProjectID
	if projectID == "" {
		projectID = defaultProjectID
	}

	return &Server{
		cfg:       cfg,
		projectID: projectID,
		errChan:   make(chan error, 1),
	}, nil
}

// ErrorChan reports asynchronous failures after Start has returned.
func (s *Server) ErrorChan() <-chan error { return s.errChan }

// Start brings up every configured component: stores, registry,
// dispatcher and its nodes, per-agent runners, the system-AI
// coordinator (if enabled), and every configured ingress channel. It
// returns once initialization succeeds; long-running work continues in
// background goroutines tied to an internal context cancelled by Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	ollama.Register()

	dataPath := s.cfg.Storage.Path
	if dataPath == "" {
		var err error
		dataPath, err = config.DefaultDataPath()
		if err != nil {
			cancel()
			return err
		}
	}
	db, err := store.Open(dataPath)
	if err != nil {
		cancel()
		return fmt.Errorf("open task store: %w", err)
	}
	s.db = db
	tasks := task.New(db)
	conversations := conversation.New(db)

	s.metrics = registry.NewMetrics("agentcore")
	s.agents = registry.New(s.metrics)
	go s.agents.Run(ctx)

	s.channels = channelreg.NewRegistry()
	dispatcher := ibl.NewDispatcher()
	dispatcher.RegisterNode(ibl.NodeFromRegistry("tools", builtin.NewRegistryWithBuiltins(s.cfg.Common.GuidesDir)))

	outputsDir := s.cfg.Common.OutputsDir
	if outputsDir == "" {
		outputsDir = "outputs"
	}
	ar := autoreport.New(s.projectID, tasks, s.agents, s.channels, outputsDir)

	s.identity = identity.New()
	identity.ReloadFromEnv(s.identity)
	if path := config.GetAgentsConfigPath(); path != "" {
		if w, werr := config.NewWatcher(path, func() { identity.ReloadFromEnv(s.identity) }); werr == nil {
			s.watcher = w
			s.watcher.Start()
		} else {
			logger.Warn().Err(werr).Msg("server: config watcher disabled")
		}
	}

	pollInterval := s.cfg.Common.PollingInterval
	if pollInterval <= 0 {
		pollInterval = runner.DefaultPollInterval
	}

	defaultProvider := provider.Default()

	for name, agentCfg := range s.cfg.Agents {
		if !agentCfg.IsEnabled() {
			continue
		}
		p := defaultProvider
		if agentCfg.Provider != "" {
			if resolved, ok := provider.Get(agentCfg.Provider); ok {
				p = resolved
			}
		}
		r := runner.New(runner.Config{
			ProjectID:     s.projectID,
			AgentName:     name,
			Profile:       prompt.AgentProfile{Name: name, RoleDescription: agentCfg.SystemPrompt},
			AllowedNodes:  agentCfg.Tools,
			PollInterval:  pollInterval,
			Model:         agentCfg.Model,
			Provider:      p,
			Dispatcher:    dispatcher,
			Agents:        s.agents,
			Tasks:         tasks,
			Conversations: conversations,
			Channels:      s.channels,
			Autoreport:    ar,
		})
		dispatcher.RegisterNode(r.SystemNode())
		s.runners = append(s.runners, r)
	}

	projects := systemai.NewStoreMap()
	projects.Register(s.projectID, tasks)

	if s.cfg.SystemAI.Enabled {
		dbPath := s.cfg.SystemAI.DBPath
		if dbPath == "" {
			dbPath = "~/.agentcore/system_ai_memory.db"
		}
		coord, serr := systemai.New(systemai.Config{
			DBPath:     dbPath,
			Model:      s.cfg.SystemAI.Model,
			Provider:   defaultProvider,
			Agents:     s.agents,
			Channels:   s.channels,
			Projects:   projects,
			OutputsDir: outputsDir,
		}, dispatcher)
		if serr != nil {
			cancel()
			return fmt.Errorf("start system-AI coordinator: %w", serr)
		}
		s.systemAI = coord
		ar.SetPeer(autoreport.Peer{ProjectID: systemai.ProjectID, Tasks: coord.Tasks})
		ar.SetSystemAITarget(systemai.Key)
		go coord.Run(ctx)
	}

	if err := s.setupChannels(); err != nil {
		cancel()
		return err
	}

	for _, r := range s.runners {
		go r.Run(ctx)
	}

	if err := s.channels.StartAll(ctx); err != nil {
		logger.Warn().Err(err).Msg("server: one or more channels failed to start")
	}

	s.running = true
	return nil
}

func (s *Server) setupChannels() error {
	if s.cfg.Channels.Gmail.Enabled {
		ch := gmail.New(gmail.Config{
			CredentialsFile: s.cfg.Channels.Gmail.CredentialsFile,
			TokenFile:       s.cfg.Channels.Gmail.TokenFile,
			PollInterval:    s.cfg.Channels.Gmail.PollInterval,
			OwnerEmails:     s.cfg.Channels.Gmail.OwnerEmails,
		})
		ch.OnMessage(s.ingressHandler(task.ChannelGmail, s.cfg.Channels.Gmail.TargetAgent))
		s.channels.Register(ch)
	}

	if s.cfg.Channels.Nostr.Enabled {
		ch, err := nostr.New(nostr.Config{
			Relays:       s.cfg.Channels.Nostr.Relays,
			PrivateKey:   s.cfg.Channels.Nostr.PrivateKey,
			OwnerPubkeys: s.cfg.Channels.Nostr.OwnerPubkeys,
		}, s.db)
		if err != nil {
			return fmt.Errorf("build nostr channel: %w", err)
		}
		ch.OnMessage(s.ingressHandler(task.ChannelNostr, s.cfg.Channels.Nostr.TargetAgent))
		s.channels.Register(ch)
	}

	if s.cfg.Channels.GUI.Enabled {
		s.channels.Register(gui.New(gui.Config{Enabled: true}))
	}

	return nil
}

// ingressHandler builds the channel.MessageHandler every ingress
// channel registers: it re-checks the sender against the live
// identity.Set (the channel's own static owner list only reflects
// config as of process start; identity.Set reflects the last
// ReloadFromEnv) before routing the message into targetAgent's inbox.
func (s *Server) ingressHandler(ch task.Channel, targetAgent string) channel.MessageHandler {
	if targetAgent == "" {
		targetAgent = systemai.AgentID
	}
	return func(ctx context.Context, msg channel.InboundMessage) error {
		switch ch {
		case task.ChannelGmail:
			if !s.identity.IsOwnerEmail(msg.SenderID) {
				return nil
			}
		case task.ChannelNostr:
			if !s.identity.IsOwnerPubkey(msg.SenderID) {
				return nil
			}
		}

		if targetAgent == systemai.AgentID && s.systemAI != nil {
			_, err := s.systemAI.Accept(msg.SenderID, ch, "", msg.Content)
			return err
		}

		for _, r := range s.runners {
			if r.AgentName() == targetAgent {
				_, err := r.Accept(msg.SenderID, ch, "", msg.Content)
				return err
			}
		}
		logger.Warn().Str("target_agent", targetAgent).Msg("server: no runner registered for channel's target agent")
		return nil
	}
}

// Stop cancels every running component and releases the store handle.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.channels != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.channels.StopAll(stopCtx)
	}
	for _, r := range s.runners {
		r.Stop()
	}
	if s.systemAI != nil {
		_ = s.systemAI.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}

	s.running = false
	return nil
}

// IsRunning reports whether Start has completed successfully and Stop
// has not yet been called.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MetricsHandler exposes the registry's Prometheus handler so the
// caller can bind whatever address/mux it wants around it — kept off
// the Server's own lifecycle since spec.md's Non-goals exclude an
// HTTP/WebSocket GUI surface beyond the channel's own Send primitive,
// leaving only this narrow scrape endpoint as the process's HTTP
// footprint.
func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}
