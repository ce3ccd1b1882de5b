package cli

import (
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/thuasta/saiblo-worker/internal/build"
	"github.com/thuasta/saiblo-worker/internal/config"
	"github.com/thuasta/saiblo-worker/internal/container/docker"
	"github.com/thuasta/saiblo-worker/internal/fetch"
	"github.com/thuasta/saiblo-worker/internal/judge"
	"github.com/thuasta/saiblo-worker/internal/paths"
	"github.com/thuasta/saiblo-worker/internal/report"
	"github.com/thuasta/saiblo-worker/pkg/logger"
)

// deps bundles the worker's long-lived collaborators. The HTTP client is the
// single shared session for fetches and reports.
type deps struct {
	cfg           *config.Config
	log           *logger.Logger
	fetcher       *fetch.Fetcher
	builder       *build.Builder
	judger        *judge.Judger
	buildReporter *report.BuildReporter
	matchReporter *report.MatchReporter
}

func buildDeps(configFile string) (*deps, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.LoggingLevel)

	runtime, err := docker.NewRuntime()
	if err != nil {
		return nil, err
	}

	pm := paths.New(cfg.DataDir)
	http := resty.New().SetBaseURL(cfg.HTTPBaseURL)

	return &deps{
		cfg:     cfg,
		log:     log,
		fetcher: fetch.NewFetcher(http, pm, log),
		builder: build.NewBuilder(runtime, time.Duration(cfg.BuildTimeout*float64(time.Second)), log),
		judger: judge.NewJudger(runtime, pm, judge.Options{
			AgentCPUs:        cfg.AgentCPUs,
			AgentMemLimit:    cfg.AgentMemLimit,
			GameHostCPUs:     cfg.GameHostCPUs,
			GameHostMemLimit: cfg.GameHostMemLimit,
			JudgeTimeout:     time.Duration(cfg.JudgeTimeout * float64(time.Second)),
		}, log),
		buildReporter: report.NewBuildReporter(http, log),
		matchReporter: report.NewMatchReporter(http, log),
	}, nil
}
