package vifierrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorMessagesAndUnwrap(t *testing.T) {
	cause := errors.New("boom")

	cfg := &ConfigError{Op: "load", Err: cause}
	assert.Contains(t, cfg.Error(), "load")
	assert.Same(t, cause, cfg.Unwrap())

	adm := &AdmissionError{Service: "a", Reason: "bad image"}
	assert.Contains(t, adm.Error(), "bad image")
	assert.Nil(t, adm.Unwrap())

	admWrapped := &AdmissionError{Service: "a", Reason: "io", Err: cause}
	assert.Contains(t, admWrapped.Error(), "boom")

	deferred := &Deferred{Service: "b", Waiting: "a"}
	assert.Contains(t, deferred.Error(), "waiting on a")

	launch := &LaunchError{Service: "a", Err: cause}
	assert.Same(t, cause, launch.Unwrap())

	timeout := &Timeout{Service: "a", TTLSecs: 30}
	assert.Contains(t, timeout.Error(), "30")

	sink := &SinkError{Sink: "s3", Err: cause}
	assert.Contains(t, sink.Error(), "s3")
	assert.Same(t, cause, sink.Unwrap())

	transport := &TransportError{Sink: "nifi", Err: cause}
	assert.NotContains(t, transport.Error(), "cleanup also failed")
	transportWithCleanup := &TransportError{Sink: "nifi", Err: cause, CleanupErr: errors.New("cleanup failed")}
	assert.Contains(t, transportWithCleanup.Error(), "cleanup also failed")

	ioErr := &IOError{Op: "copy", Err: cause}
	assert.Same(t, cause, ioErr.Unwrap())

	bug := &Bug{Msg: "invariant violated"}
	assert.Contains(t, bug.Error(), "invariant violated")
}

func TestErrorsAsDiscriminatesKind(t *testing.T) {
	var err error = &LaunchError{Service: "a", Err: errors.New("x")}

	var launchErr *LaunchError
	assert.True(t, errors.As(err, &launchErr))

	var admErr *AdmissionError
	assert.False(t, errors.As(err, &admErr))
}
