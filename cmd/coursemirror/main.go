package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
	"gopkg.in/yaml.v3"

	"coursemirror/pkg/checkpoint"
	"coursemirror/pkg/config"
	"coursemirror/pkg/download"
	"coursemirror/pkg/extract"
	"coursemirror/pkg/fetch"
	"coursemirror/pkg/models"
	"coursemirror/pkg/runner"
	"coursemirror/pkg/session"
	"coursemirror/pkg/tasks"
	"coursemirror/pkg/utils"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	log.SetLevel(logrus.InfoLevel)

	configFileFlag := flag.String("config", "config.yaml", "Path to YAML config file")
	platformFlag := flag.String("platform", "", "Platform key from config file (required)")
	coursesFlag := flag.String("courses", "", "Comma-separated course IDs to mirror (required)")
	logLevelFlag := flag.String("loglevel", "info", "Log level (debug, info, warn, error, fatal)")
	resumeFlag := flag.Bool("resume", true, "Reuse the existing asset index instead of wiping it")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevelFlag)
	if err != nil {
		log.Warnf("Invalid log level '%s', using default 'info'. Error: %v", *logLevelFlag, err)
	} else {
		log.SetLevel(level)
	}

	// --- Load Application Configuration ---
	log.Infof("Loading configuration from %s", *configFileFlag)
	yamlFile, err := os.ReadFile(*configFileFlag)
	if err != nil {
		log.Fatalf("Read config file '%s' error: %v", *configFileFlag, err)
	}
	var appCfg config.AppConfig
	if err := yaml.Unmarshal(yamlFile, &appCfg); err != nil {
		log.Fatalf("Parse config file '%s' error: %v", *configFileFlag, err)
	}
	appWarnings, err := appCfg.Validate()
	for _, w := range appWarnings {
		log.Warn(w)
	}
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}
	logAppConfig(&appCfg, log)

	// --- Select and Validate Platform Configuration ---
	if *platformFlag == "" {
		log.Fatalf("Error: -platform flag is required.")
	}
	platCfg, ok := appCfg.Platforms[*platformFlag]
	if !ok {
		log.Fatalf("Error: Platform key '%s' not found in config file '%s'", *platformFlag, *configFileFlag)
	}
	platWarnings, err := platCfg.Validate()
	if err != nil {
		log.Fatalf("Platform '%s' configuration error: %v", *platformFlag, err)
	}
	for _, w := range platWarnings {
		log.Warnf("[%s] %s", *platformFlag, w)
	}
	log.Infof("Platform Config for '%s': BaseURL: %s, ContentSel: '%s'",
		*platformFlag, platCfg.BaseURL, platCfg.ContentSelector)

	courseIDs := splitCourseIDs(*coursesFlag)
	if len(courseIDs) == 0 {
		log.Fatalf("Error: -courses flag is required.")
	}

	// --- Global Context & Signal Handling ---
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	resumeChan := make(chan os.Signal, 1)
	signal.Notify(resumeChan, syscall.SIGUSR1)
	defer signal.Stop(resumeChan)

	// ===========================================================
	// == Initialize Components ==
	// ===========================================================
	log.Info("Initializing components...")

	assetIndex, err := checkpoint.NewAssetIndex(appCfg.StateDir, *resumeFlag, logrus.NewEntry(log))
	if err != nil {
		log.Fatalf("Failed to initialize asset index: %v", err)
	}
	defer assetIndex.Close()
	go assetIndex.RunGC(ctx, 10*time.Minute)

	httpClient := fetch.NewClient(appCfg.HTTPClientSettings, log)
	fetcher := fetch.NewFetcher(httpClient, &appCfg, log)
	rateLimiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log)
	hostSems := fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, logrus.NewEntry(log))
	globalSem := semaphore.NewWeighted(int64(appCfg.MaxRequests))

	downloadPool := download.NewPool(assetIndex, fetcher, rateLimiter, hostSems, globalSem, &appCfg, log)
	downloadPool.Start()
	defer downloadPool.Stop()

	// Authentication and challenge detection are platform plug-ins;
	// anonymous mirroring runs without either.
	sessions := session.NewPool(&appCfg, nil, nil, log)
	defer sessions.Close()

	progressStore := checkpoint.NewFileStore(appCfg.OutputBaseDir, logrus.NewEntry(log))

	entry := logrus.NewEntry(log)
	crawlRunner, err := runner.New(
		&appCfg, platCfg, sessions, progressStore, downloadPool,
		extract.NewAPICourseExtractor(platCfg, entry),
		extract.NewHTMLLessonExtractor(platCfg, entry),
		extract.NewMarkdownWriter(appCfg.ValidateMarkdown, entry),
		log,
	)
	if err != nil {
		log.Fatalf("Failed to initialize crawl runner: %v", err)
	}

	manager, err := tasks.NewManager(&appCfg, crawlRunner.Run, log)
	if err != nil {
		log.Fatalf("Failed to initialize task manager: %v", err)
	}
	manager.Start()

	// Cancel everything on SIGINT/SIGTERM; resume paused tasks on SIGUSR1
	go func() {
		for {
			select {
			case sig := <-sigChan:
				log.Warnf("Received signal: %v. Initiating graceful shutdown...", sig)
				manager.CancelAll()
				cancel()
				select {
				case sig = <-sigChan:
					log.Warnf("Received second signal: %v. Forcing exit.", sig)
					os.Exit(1)
				case <-time.After(30 * time.Second):
					log.Warn("Graceful shutdown period exceeded after signal. Forcing exit.")
					os.Exit(1)
				}
			case <-resumeChan:
				for _, view := range manager.List() {
					if view.Status == models.TaskStatusPaused {
						log.Infof("Resuming paused task %s (course '%s')", view.ID, view.CourseID)
						if resumeErr := manager.Resume(view.ID); resumeErr != nil {
							log.Warnf("Resume failed for task %s: %v", view.ID, resumeErr)
						}
					}
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// ===========================================================
	// == Submit Courses & Wait ==
	// ===========================================================
	taskIDs := make([]string, 0, len(courseIDs))
	for _, courseID := range courseIDs {
		taskID, submitErr := manager.Submit(courseID, nil)
		if submitErr != nil {
			log.Errorf("Submit failed for course '%s': %v", courseID, submitErr)
			continue
		}
		log.Infof("Submitted course '%s' as task %s", courseID, taskID)
		taskIDs = append(taskIDs, taskID)
	}
	if len(taskIDs) == 0 {
		log.Fatal("No tasks submitted.")
	}

	failed := waitForTasks(manager, taskIDs, appCfg.OutputBaseDir, log)

	manager.Stop()

	if failed > 0 {
		log.Errorf("Finished with %d failed task(s).", failed)
		os.Exit(1)
	}
	if ctx.Err() != nil {
		log.Warn("Mirror cancelled gracefully.")
		os.Exit(0)
	}
	log.Info("All courses mirrored successfully.")
}

// waitForTasks polls until every listed task reaches a terminal state and
// returns the number of failures. Pauses are surfaced so an operator knows
// to intervene (and send SIGUSR1 once the block is cleared).
func waitForTasks(manager *tasks.Manager, taskIDs []string, outputBaseDir string, log *logrus.Logger) int {
	reportedPaused := make(map[string]bool)
	failed := 0

	remaining := make(map[string]bool, len(taskIDs))
	for _, id := range taskIDs {
		remaining[id] = true
	}

	for len(remaining) > 0 {
		time.Sleep(500 * time.Millisecond)
		for id := range remaining {
			view, err := manager.Status(id)
			if err != nil {
				log.Errorf("Status lookup failed for task %s: %v", id, err)
				delete(remaining, id)
				continue
			}
			switch view.Status {
			case models.TaskStatusPaused:
				if !reportedPaused[id] {
					reportedPaused[id] = true
					log.Warnf("Task %s (course '%s') paused: %s — send SIGUSR1 to resume once cleared",
						id, view.CourseID, view.PauseReason)
				}
			case models.TaskStatusCompleted:
				log.Infof("Task %s (course '%s') completed: %d extracted, %d failed, %d skipped",
					id, view.CourseID, view.Progress.ExtractedLessons, view.Progress.FailedLessons, view.Progress.SkippedLessons)
				writeCourseTree(outputBaseDir, view, log)
				delete(remaining, id)
			case models.TaskStatusFailed:
				log.Errorf("Task %s (course '%s') failed: %s", id, view.CourseID, view.Error)
				failed++
				delete(remaining, id)
			case models.TaskStatusCancelled:
				log.Warnf("Task %s (course '%s') cancelled.", id, view.CourseID)
				delete(remaining, id)
			default:
				reportedPaused[id] = false
			}
		}
	}
	return failed
}

// writeCourseTree saves a text tree of the finished course directory next
// to it, so the mirror's layout is inspectable without walking the disk.
func writeCourseTree(outputBaseDir string, view models.TaskView, log *logrus.Logger) {
	courseKey := utils.CourseDirName(view.CourseID, view.CourseTitle)
	courseDir := filepath.Join(outputBaseDir, courseKey)
	structurePath := filepath.Join(outputBaseDir, courseKey+"_structure.txt")
	if err := utils.WriteTreeStructure(courseDir, structurePath, logrus.NewEntry(log)); err != nil {
		log.Errorf("Failed to write course structure file: %v", err)
		return
	}
	log.Infof("Saved course structure to %s", structurePath)
}

func splitCourseIDs(raw string) []string {
	var ids []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			ids = append(ids, trimmed)
		}
	}
	return ids
}

// logAppConfig logs the effective global configuration
func logAppConfig(appCfg *config.AppConfig, log *logrus.Logger) {
	log.Infof("Global Config: TaskWorkers:%d, DownloadWorkers:%d, Sessions:%d, MaxReqs:%d, MaxReqPerHost:%d",
		appCfg.NumTaskWorkers, appCfg.NumDownloadWorkers, appCfg.SessionPoolSize,
		appCfg.MaxRequests, appCfg.MaxRequestsPerHost)
	log.Infof("Global Config: DefaultDelay:%v, StateDir:%s, OutputDir:%s",
		appCfg.DefaultDelayPerHost, appCfg.StateDir, appCfg.OutputBaseDir)
	log.Infof("Global Config Retries: Max:%d, InitialDelay:%v, MaxDelay:%v, AssetAttempts:%d, ClaimLease:%v, Relogins:%d",
		appCfg.MaxRetries, appCfg.InitialRetryDelay, appCfg.MaxRetryDelay,
		appCfg.MaxAssetAttempts, appCfg.AssetClaimLease, appCfg.MaxReloginAttempts)
	log.Infof("Global Config Timeouts: SemaphoreAcquire:%v, PerLesson:%v",
		appCfg.SemaphoreAcquireTimeout, appCfg.PerLessonTimeout)
	log.Infof("Global Config HTTP Client: Timeout:%v, MaxIdle:%d, MaxIdlePerHost:%d, IdleTimeout:%v, TLSTimeout:%v, DialerTimeout:%v",
		appCfg.HTTPClientSettings.Timeout, appCfg.HTTPClientSettings.MaxIdleConns, appCfg.HTTPClientSettings.MaxIdleConnsPerHost,
		appCfg.HTTPClientSettings.IdleConnTimeout, appCfg.HTTPClientSettings.TLSHandshakeTimeout, appCfg.HTTPClientSettings.DialerTimeout)
	log.Infof("Global Config Output: Metadata:%t, Intro:%t, ValidateMarkdown:%t",
		appCfg.WriteCourseMetadata, appCfg.WriteCourseIntro, appCfg.ValidateMarkdown)
}
