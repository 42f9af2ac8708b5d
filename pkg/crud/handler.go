package crud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/edgeflare/pgcrud/pkg/httputil"
	"go.uber.org/zap"
)

func (r *Registry) handler(kind Kind, b Binding, interpreter *Interpreter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := Record{Entity: r.entity.Name(), Kind: kind}

		artifact, committed, err := r.serve(req, w.Header(), kind, b, interpreter)
		if err != nil {
			rec.Status = r.writeError(w, kind, err)
			rec.Err = err
		} else {
			writeArtifact(w, artifact)
			rec.Status = artifact.Status
			rec.Count = artifact.Count
			rec.Body = artifact.Body
			rec.Location = artifact.Location
			rec.Committed = committed
		}

		rec.Duration = time.Since(start)
		for _, obs := range r.observers {
			obs.Observe(req.Context(), rec)
		}
	})
}

// serve runs one request through argument extraction, statement execution
// and result interpretation. The session is released on every path; work
// that was not committed is discarded with it.
func (r *Registry) serve(req *http.Request, header http.Header, kind Kind, b Binding, interpreter *Interpreter) (Artifact, bool, error) {
	ctx := req.Context()

	args, err := r.extractArgs(req, kind, b)
	if err != nil {
		return Artifact{}, false, err
	}
	stmt, err := r.queries.Build(kind, args)
	if err != nil {
		return Artifact{}, false, &ArgumentError{Source: "statement", Err: err}
	}

	sess, err := r.sessions(ctx)
	if err != nil {
		return Artifact{}, false, fmt.Errorf("acquire session: %w", err)
	}
	defer sess.Release()

	var outcome Outcome
	err = r.executor.Run(ctx, func(ctx context.Context) error {
		o, err := sess.Execute(ctx, stmt)
		if err != nil {
			return err
		}
		if kind.expires() {
			sess.Expire()
		}
		outcome = o
		return nil
	})
	if err != nil {
		if kind.Guarded() && Classify(err) == FailureConflict {
			r.logger.Debug("unique constraint conflict",
				zap.String("entity", r.entity.Name()),
				zap.Stringer("kind", kind),
				zap.Error(err),
			)
			return conflict, false, nil
		}
		return Artifact{}, false, fmt.Errorf("execute %s: %w", kind, err)
	}

	artifact, err := interpreter.Interpret(Input{
		Kind:     kind,
		Outcome:  outcome,
		Response: b.Response,
		Header:   header,
		Path:     req.URL.Path,
	})
	if err != nil {
		header.Del(TotalCountHeader)
		var redirectErr *RedirectError
		if !errors.As(err, &redirectErr) {
			return Artifact{}, false, err
		}
		if rbErr := r.executor.Run(ctx, sess.Rollback); rbErr != nil {
			return Artifact{}, false, fmt.Errorf("rollback: %w", rbErr)
		}
		return Artifact{Status: http.StatusNotFound, Message: redirectErr.Error()}, false, nil
	}

	if !r.autocommit || !artifact.Commits() {
		return artifact, false, nil
	}
	if err := r.executor.Run(ctx, sess.Commit); err != nil {
		header.Del(TotalCountHeader)
		if kind.Guarded() && Classify(err) == FailureConflict {
			return conflict, false, nil
		}
		return Artifact{}, false, fmt.Errorf("commit: %w", err)
	}
	return artifact, true, nil
}

func writeArtifact(w http.ResponseWriter, a Artifact) {
	switch a.Status {
	case http.StatusNoContent:
		w.WriteHeader(a.Status)
	case http.StatusSeeOther:
		w.Header().Set("Location", a.Location)
		w.WriteHeader(a.Status)
	case http.StatusConflict, http.StatusNotFound:
		httputil.Error(w, a.Status, a.Message)
	default:
		httputil.JSON(w, a.Status, a.Body)
	}
}

// writeError maps request errors to a status. Faults and shape mismatches
// are logged and answered with a generic 500.
func (r *Registry) writeError(w http.ResponseWriter, kind Kind, err error) int {
	var argErr *ArgumentError
	if errors.As(err, &argErr) {
		status := http.StatusUnprocessableEntity
		if errors.Is(err, ErrMalformedBody) {
			status = http.StatusBadRequest
		}
		httputil.Error(w, status, argErr.Error())
		return status
	}

	r.logger.Error("operation failed",
		zap.String("entity", r.entity.Name()),
		zap.Stringer("kind", kind),
		zap.Error(err),
	)
	httputil.Error(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	return http.StatusInternalServerError
}
