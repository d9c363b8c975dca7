// tenant-reaper performs one policy-driven reclamation run against the
// cluster and exits. It is meant to be invoked from cron; the run lock
// makes overlapping invocations safe.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap/zapcore"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/bryanpaget/tenant-reaper/internal/cluster"
	"github.com/bryanpaget/tenant-reaper/internal/exclude"
	"github.com/bryanpaget/tenant-reaper/internal/lock"
	"github.com/bryanpaget/tenant-reaper/internal/policy"
	"github.com/bryanpaget/tenant-reaper/internal/runner"
)

const version = "0.3.0"

var (
	configPath    = flag.String("config", "/etc/tenant-reaper/config.yaml", "Path to the retention policy file")
	exclusionsDir = flag.String("exclusions-dir", "/etc/tenant-reaper/exclusions", "Directory holding the namespaces/controllers/pods/services exclusion lists")
	lockFile      = flag.String("lock-file", "/var/run/tenant-reaper.lock", "Run lock path; one run per host at a time")
	kubeconfig    = flag.String("kubeconfig", "", "Kubeconfig path for running outside the cluster")
	dryRun        = flag.Bool("dry-run", false, "Log every would-be deletion without performing any")
	quiet         = flag.Bool("quiet", false, "Only log errors")
	showVersion   = flag.Bool("version", false, "Print the version and exit")
)

func main() {
	os.Exit(run())
}

// run carries the real main so deferred cleanup survives the exit path.
func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Println("tenant-reaper " + version)
		return 0
	}

	level := zapcore.InfoLevel
	if *quiet {
		level = zapcore.ErrorLevel
	}
	ctrl.SetLogger(zap.New(zap.Level(level)))
	log := ctrl.Log.WithName("tenant-reaper")

	runLock := lock.New(*lockFile)
	if err := runLock.Acquire(); err != nil {
		log.Error(err, "run lock unavailable, exiting", "path", runLock.Path())
		return 2
	}
	defer runLock.Release()

	pol, err := policy.Load(*configPath)
	if err != nil {
		log.Error(err, "loading retention policy failed", "path", *configPath)
		return 1
	}

	exclusions, err := exclude.Load(exclusionPaths(*exclusionsDir))
	if err != nil {
		log.Error(err, "loading exclusion lists failed", "dir", *exclusionsDir)
		return 1
	}
	ns, ctrls, pods, svcs := exclusions.Counts()
	log.Info("exclusions loaded",
		"namespaces", ns, "controllers", ctrls, "pods", pods, "services", svcs)

	clientset, err := cluster.NewClientset(*kubeconfig)
	if err != nil {
		log.Error(err, "creating cluster client failed")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := runner.New(runner.Options{
		Cluster:    cluster.New(clientset, pol.Batch.CallTimeout),
		Policy:     pol,
		Exclusions: exclusions,
		Log:        log,
		DryRun:     *dryRun,
	})

	if *dryRun {
		log.Info("dry-run mode: no resources will be deleted")
	}

	if err := r.Run(ctx); err != nil {
		log.Error(err, "run interrupted")
		return 1
	}

	log.Info("run complete")
	return 0
}

func exclusionPaths(dir string) exclude.Paths {
	return exclude.Paths{
		Namespaces:  filepath.Join(dir, "namespaces"),
		Controllers: filepath.Join(dir, "controllers"),
		Pods:        filepath.Join(dir, "pods"),
		Services:    filepath.Join(dir, "services"),
	}
}
