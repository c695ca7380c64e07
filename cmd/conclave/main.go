// Command conclave runs a single Conclave session end to end: it seats
// the configured Archon roster, optionally promotes the single motion seed
// given by -seed through promotion and admission, carries each admitted
// motion through debate and voting, drains
// the Reconciliation Gate, and ratifies every passed motion into the
// append-only ledger.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/conclave-engine/conclave/internal/admission"
	"github.com/conclave-engine/conclave/internal/audit"
	"github.com/conclave-engine/conclave/internal/audit/amqppublisher"
	"github.com/conclave-engine/conclave/internal/audit/kafkapublisher"
	"github.com/conclave-engine/conclave/internal/audit/noop"
	"github.com/conclave-engine/conclave/internal/config"
	"github.com/conclave-engine/conclave/internal/debate"
	"github.com/conclave-engine/conclave/internal/llmclient"
	"github.com/conclave-engine/conclave/internal/metrics"
	"github.com/conclave-engine/conclave/internal/motion"
	"github.com/conclave-engine/conclave/internal/ports"
	"github.com/conclave-engine/conclave/internal/profiles"
	"github.com/conclave-engine/conclave/internal/promotion"
	"github.com/conclave-engine/conclave/internal/promotion/tracker/filetracker"
	"github.com/conclave-engine/conclave/internal/promotion/tracker/redistracker"
	"github.com/conclave-engine/conclave/internal/registrar"
	"github.com/conclave-engine/conclave/internal/session"
	"github.com/conclave-engine/conclave/internal/transcript"
	"github.com/conclave-engine/conclave/internal/validator"
)

var (
	envFile    = flag.String("env-file", ".env", "Path to a .env file to load before reading configuration")
	seedText   = flag.String("seed", "", "A single motion seed to submit and attempt to carry through the session")
	sponsor    = flag.String("sponsor", "", "Archon ID sponsoring the seed (must be a King per the roster)")
	primaryRealm = flag.String("realm", "", "Primary realm the seed's motion belongs to")
	motionType = flag.String("motion-type", "policy", "Motion type: policy, constitutional, or procedural")
	cycleID    = flag.String("cycle", "", "Promotion budget cycle ID; defaults to today's date")
)

func newLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	logger.SetLevel(parsed)
	return logger
}

func newAuditPublisher(cfg *config.Config) ports.AuditPublisher {
	breakerCfg := audit.BreakerConfig{
		FailureThreshold:    cfg.AuditCircuitFailureThreshold,
		SuccessThreshold:    2,
		ResetTimeout:        cfg.AuditCircuitResetTimeout,
		HalfOpenMaxRequests: 3,
	}
	switch cfg.AuditBackend {
	case "kafka":
		kcfg := kafkapublisher.DefaultConfig()
		kcfg.Brokers = cfg.AuditBrokerAddrs
		kcfg.Breaker = breakerCfg
		return kafkapublisher.New(kcfg)
	case "amqp":
		acfg := amqppublisher.DefaultConfig()
		if len(cfg.AuditBrokerAddrs) > 0 {
			acfg.URL = cfg.AuditBrokerAddrs[0]
		}
		acfg.Breaker = breakerCfg
		return amqppublisher.New(acfg)
	default:
		return noop.New()
	}
}

func newBudgetTracker(cfg *config.Config) (promotion.BudgetTracker, func(), error) {
	switch cfg.PromotionTrackerBackend {
	case "redis":
		addr := "localhost:6379"
		if len(cfg.AuditBrokerAddrs) > 0 {
			addr = cfg.AuditBrokerAddrs[0]
		}
		client := redis.NewClient(&redis.Options{Addr: addr})
		return redistracker.New(client, ""), func() { client.Close() }, nil
	default:
		tracker, err := filetracker.New(cfg.LedgerDir + "/promotion-budget")
		if err != nil {
			return nil, func() {}, fmt.Errorf("construct file budget tracker: %w", err)
		}
		return tracker, func() {}, nil
	}
}

func toMotionType(t config.MotionType) motion.MotionType {
	return motion.MotionType(t)
}

func motionThresholds(cfg *config.Config) map[motion.MotionType]float64 {
	out := make(map[motion.MotionType]float64, len(cfg.MotionThreshold))
	for t, v := range cfg.MotionThreshold {
		out[toMotionType(t)] = v
	}
	return out
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	profileRepo, err := profiles.LoadFromFile(cfg.ArchonRosterPath)
	if err != nil {
		return fmt.Errorf("load archon roster: %w", err)
	}

	auditPublisher := newAuditPublisher(cfg)
	if closer, ok := auditPublisher.(interface{ Close() error }); ok {
		defer closer.Close()
	}

	var met *metrics.Metrics
	var metricsRecorder validator.Recorder
	if cfg.MetricsEnabled {
		met = metrics.New()
		metricsRecorder = met
	}

	invoker := llmclient.New(profileRepo, nil, cfg.LLMRequestsPerSecond)

	val := validator.New(validator.Config{
		VotingConcurrency: cfg.VotingConcurrency,
		TaskTimeout:       cfg.TaskTimeoutSeconds,
		WitnessArchonID:   cfg.WitnessArchonID,
	}, invoker, profileRepo, auditPublisher, logger, metricsRecorder)

	tr := transcript.New()
	sess := session.New(session.Config{
		SecondingWindow:       cfg.SecondingWindow,
		ReconciliationTimeout: cfg.ReconciliationTimeout,
		MotionThreshold:       motionThresholds(cfg),
		Debate: debate.Config{
			DebateRounds:                cfg.DebateRounds,
			DigestInterval:              cfg.DigestInterval,
			MaxStructuralRisksPerDigest: cfg.MaxStructuralRisksPerDigest,
			ExploitationPromptEnabled:   cfg.ExploitationPromptEnabled,
			ConsensusBreakEnabled:       cfg.ConsensusBreakEnabled,
			ConsensusBreakThreshold:     cfg.ConsensusBreakThreshold,
			ConsensusBreakCount:         cfg.ConsensusBreakCount,
			RedTeamEnabled:              cfg.RedTeamEnabled,
			RedTeamCount:                cfg.RedTeamCount,
			RedTeamMinUniqueRanks:       cfg.RedTeamMinUniqueRanks,
			TaskTimeout:                 cfg.TaskTimeoutSeconds,
		},
	}, tr, val, logger)

	if met != nil {
		sess.SetDrainRecorder(met)
	}

	allProfiles, err := profileRepo.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load roster profiles: %w", err)
	}
	roster := make([]string, len(allProfiles))
	for i, p := range allProfiles {
		roster[i] = p.ArchonID
	}
	if err := sess.Open(ctx, roster); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	logger.WithField("session_id", sess.SessionID).Info("conclave called to order")

	seeds := motion.NewSeedRegistry()
	admissionGate := admission.NewGate(admission.Config{CrossRealmEscalationThreshold: cfg.CrossRealmEscalationThreshold})
	tracker, closeTracker, err := newBudgetTracker(cfg)
	if err != nil {
		return err
	}
	defer closeTracker()
	promotionSvc := promotion.NewService(tracker, admissionGate, seeds, cfg.PromotionBudgetPerKing)
	if met != nil {
		promotionSvc.SetRecorder(met)
	}

	reg := registrar.New(cfg.LedgerDir)

	if *seedText != "" {
		if *sponsor == "" || *primaryRealm == "" {
			return fmt.Errorf("-sponsor and -realm are required when -seed is set")
		}
		seed := seeds.Record(*sponsor, *seedText, "cli")

		cid := *cycleID
		if cid == "" {
			cid = time.Now().Format("2006-01-02")
		}

		m, err := promotionSvc.Promote(ctx, promotion.Request{
			CycleID: cid, KingID: *sponsor, SeedRefs: []string{seed.SeedID},
			Title: *seedText, MotionType: motion.MotionType(*motionType),
			PrimaryRealm: *primaryRealm, PrimarySponsor: *sponsor,
			Realms: []string{*primaryRealm}, Text: *seedText, SuccessCriteria: "",
		})
		if err != nil {
			return fmt.Errorf("promote seed %s: %w", seed.SeedID, err)
		}

		if m.AdmissionRecord.Status != motion.AdmissionAdmitted {
			logger.WithField("reasons", m.AdmissionRecord.ReasonCodes).Warn("motion not admitted; adjourning without a floor vote")
		} else {
			if err := sess.IntroduceMotion(ctx, m); err != nil {
				return fmt.Errorf("introduce motion: %w", err)
			}
			if err := sess.SecondMotion(ctx, m.MotionID, *sponsor, time.Now()); err != nil {
				logger.WithError(err).Warn("motion died for lack of a second")
			} else {
				orchestrator := debate.NewOrchestrator(debate.Config{
					DebateRounds:                cfg.DebateRounds,
					DigestInterval:              cfg.DigestInterval,
					MaxStructuralRisksPerDigest: cfg.MaxStructuralRisksPerDigest,
					ExploitationPromptEnabled:   cfg.ExploitationPromptEnabled,
					ConsensusBreakEnabled:       cfg.ConsensusBreakEnabled,
					ConsensusBreakThreshold:     cfg.ConsensusBreakThreshold,
					ConsensusBreakCount:         cfg.ConsensusBreakCount,
					RedTeamEnabled:              cfg.RedTeamEnabled,
					RedTeamCount:                cfg.RedTeamCount,
					RedTeamMinUniqueRanks:       cfg.RedTeamMinUniqueRanks,
					TaskTimeout:                 cfg.TaskTimeoutSeconds,
				}, invoker, tr)
				debateCtx, err := sess.DebateRound(ctx, m, orchestrator, allProfiles)
				if err != nil {
					return fmt.Errorf("debate round: %w", err)
				}
				if err := sess.CollectVotes(ctx, m, invoker, orchestrator, allProfiles, debateCtx, cfg.TaskTimeoutSeconds); err != nil {
					return fmt.Errorf("collect votes: %w", err)
				}
			}
		}
	}

	if err := sess.Adjourn(ctx); err != nil {
		return fmt.Errorf("adjourn: %w", err)
	}
	logger.WithField("phase", sess.Phase).Info("conclave adjourned")

	var ratified []ports.Mandate
	for _, m := range sess.Motions {
		if m.Status != motion.StatusPassed {
			continue
		}
		mandate, err := reg.RatifyMotion(ctx, m, sess.VotesFor(m.MotionID), motionThresholds(cfg)[m.MotionType], sess.EndedAt)
		if err != nil {
			return fmt.Errorf("ratify motion %s: %w", m.MotionID, err)
		}
		ratified = append(ratified, mandate)
		logger.WithFields(logrus.Fields{"motion_id": m.MotionID, "mandate_id": mandate.MandateID}).Info("motion ratified")
	}
	if len(ratified) > 0 {
		if err := registrar.WriteRatifiedMandatesHandoff(cfg.LedgerDir, ratified); err != nil {
			return fmt.Errorf("write ratified mandates handoff: %w", err)
		}
	}

	return nil
}

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", *envFile, err)
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("conclave session failed")
	}
}
