// Package egress stages, packages, and delivers a completed
// iteration's artifacts to the sinks declared on a service: an object
// store, named cross-site transports, and SFTP targets, in that fixed
// order.
package egress

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/mholt/archiver/v3"

	"github.com/shambakey1/vifinode/pkg/crosssite"
	"github.com/shambakey1/vifinode/pkg/log"
	"github.com/shambakey1/vifinode/pkg/manifest"
	"github.com/shambakey1/vifinode/pkg/resultactions"
	"github.com/shambakey1/vifinode/pkg/transfer"
	"github.com/shambakey1/vifinode/pkg/vifierrors"
)

// Result is one sink's independent outcome.
type Result struct {
	Sink string
	Err  error
}

// Deps carries the delivery backends egress needs for one domain. A
// nil CrossSite or S3/SFTP delivery function means that sink kind is
// unconfigured for this domain; any sink of that kind is then skipped
// with a logged SinkError rather than a panic.
type Deps struct {
	ResultsDir string
	StagingDir string // request directory; staging happens in a temp subdir of this
	CrossSite  crosssite.Client
	PutS3      func(ctx context.Context, bucket, key, path string) error
	PutSFTP    func(ctx context.Context, host string, port int, user, password, keyPath, remotePath, localPath string) error
}

// Run evaluates every declared sink's transfer condition and, for
// those that pass, stages and delivers artifacts. Sinks are attempted
// in the deterministic order: object store, then cross-site sinks in
// manifest order, then SFTP sinks in manifest order.
func Run(ctx context.Context, svc *manifest.Service, state transfer.IterationState, deps Deps) []Result {
	var results []Result

	if svc.S3 != nil {
		results = append(results, runS3(ctx, svc.S3, state, deps))
	}
	for i := range svc.Nifi {
		results = append(results, runCrossSite(ctx, &svc.Nifi[i], state, deps))
	}
	for i := range svc.Sftp {
		results = append(results, runSFTP(ctx, &svc.Sftp[i], state, deps))
	}

	return results
}

func runS3(ctx context.Context, sink *manifest.S3Sink, state transfer.IterationState, deps Deps) Result {
	const name = "s3"
	ok, err := transfer.Evaluate(sink.Transfer.Condition, state)
	if err != nil || !ok {
		return Result{Sink: name, Err: conditionResult(name, ok, err)}
	}
	if deps.PutS3 == nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: fmt.Errorf("object store not configured")}}
	}

	stagingDir, err := stage(deps.ResultsDir, deps.StagingDir, "s3", sink.Results)
	if err != nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: err}}
	}
	defer os.RemoveAll(stagingDir)

	err = filepath.WalkDir(stagingDir, func(path string, d os.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return werr
		}
		rel, rerr := filepath.Rel(stagingDir, path)
		if rerr != nil {
			return rerr
		}
		key := filepath.Join(sink.Prefix, rel)
		return deps.PutS3(ctx, sink.Bucket, key, path)
	})
	if err != nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: err}}
	}
	log.Info("delivered artifacts to s3 bucket " + sink.Bucket)
	return Result{Sink: name}
}

func runSFTP(ctx context.Context, sink *manifest.SftpSink, state transfer.IterationState, deps Deps) Result {
	const name = "sftp"
	ok, err := transfer.Evaluate(sink.Transfer.Condition, state)
	if err != nil || !ok {
		return Result{Sink: name, Err: conditionResult(name, ok, err)}
	}
	if deps.PutSFTP == nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: fmt.Errorf("sftp not configured")}}
	}

	stagingDir, err := stage(deps.ResultsDir, deps.StagingDir, "sftp", sink.Results)
	if err != nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: err}}
	}
	defer os.RemoveAll(stagingDir)

	err = filepath.WalkDir(stagingDir, func(path string, d os.DirEntry, werr error) error {
		if werr != nil || d.IsDir() {
			return werr
		}
		rel, rerr := filepath.Rel(stagingDir, path)
		if rerr != nil {
			return rerr
		}
		remote := filepath.Join(sink.RemotePath, rel)
		return deps.PutSFTP(ctx, sink.Host, sink.Port, sink.User, sink.Password, sink.KeyPath, remote, path)
	})
	if err != nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: err}}
	}
	log.Info("delivered artifacts to sftp host " + sink.Host)
	return Result{Sink: name}
}

func runCrossSite(ctx context.Context, sink *manifest.NifiSink, state transfer.IterationState, deps Deps) Result {
	const name = "nifi"
	ok, err := transfer.Evaluate(sink.Transfer.Condition, state)
	if err != nil || !ok {
		return Result{Sink: name, Err: conditionResult(name, ok, err)}
	}
	if deps.CrossSite == nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: fmt.Errorf("cross-site transport not configured")}}
	}

	archName := sink.ArchName
	if archName == "" {
		archName = "archname"
	}

	stagingDir, err := stage(deps.ResultsDir, deps.StagingDir, archName, sink.Results)
	if err != nil {
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: err}}
	}

	zipPath := filepath.Join(deps.StagingDir, archName+".zip")
	if err := archiver.Archive([]string{stagingDir}, zipPath); err != nil {
		os.RemoveAll(stagingDir)
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: fmt.Errorf("zip staged artifacts: %w", err)}}
	}
	os.RemoveAll(stagingDir)

	// I6/P8: suffix the zip with a caller-assigned artifact identifier
	// for trace correlation across the cross-site hop.
	taggedPath := filepath.Join(deps.StagingDir, fmt.Sprintf("%s.%s.zip", archName, uuid.New().String()))
	if err := os.Rename(zipPath, taggedPath); err != nil {
		os.Remove(zipPath)
		return Result{Sink: name, Err: &vifierrors.SinkError{Sink: name, Err: fmt.Errorf("tag zip with artifact id: %w", err)}}
	}
	defer os.Remove(taggedPath)

	if err := deps.CrossSite.SendFile(ctx, sink.TargetURI, sink.TargetRemoteInputPort, taggedPath); err != nil {
		cleanupErr := deps.CrossSite.Cleanup(ctx)
		return Result{Sink: name, Err: &vifierrors.TransportError{Sink: name, Err: err, CleanupErr: cleanupErr}}
	}
	if err := deps.CrossSite.Cleanup(ctx); err != nil {
		log.Warn("cross-site cleanup after successful delivery: " + err.Error())
	}

	log.Info("delivered artifact " + filepath.Base(taggedPath) + " to " + sink.TargetURI)
	return Result{Sink: name}
}

// conditionResult turns a transfer-condition evaluation into the
// appropriate (non-)result: an evaluation error is a SinkError, while
// a clean false result means this sink simply did not fire this
// iteration.
func conditionResult(sinkName string, ok bool, err error) error {
	if err != nil {
		return &vifierrors.SinkError{Sink: sinkName, Err: fmt.Errorf("transfer condition: %w", err)}
	}
	_ = ok
	return nil
}

// stage copies the sink's declared result patterns (or the whole
// results/ tree, if none are declared) into a fresh staging directory
// under stagingRoot.
func stage(resultsDir, stagingRoot, name string, patterns []string) (string, error) {
	dir := filepath.Join(stagingRoot, name)
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear staging dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}

	if len(patterns) == 0 {
		if err := resultactions.CopyTree(resultsDir, dir); err != nil {
			return "", fmt.Errorf("stage results tree: %w", err)
		}
		return dir, nil
	}

	for _, pattern := range patterns {
		matches, err := filepath.Glob(filepath.Join(resultsDir, pattern))
		if err != nil {
			return "", fmt.Errorf("glob %s: %w", pattern, err)
		}
		for _, match := range matches {
			rel, err := filepath.Rel(resultsDir, match)
			if err != nil {
				return "", fmt.Errorf("relativize %s: %w", match, err)
			}
			if err := resultactions.CopyPath(match, filepath.Join(dir, rel)); err != nil {
				return "", fmt.Errorf("stage %s: %w", match, err)
			}
		}
	}
	return dir, nil
}
