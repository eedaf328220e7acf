package ingest

import (
	"context"
	"fmt"
	"log"

	"amcache/internal/casestore"
	"amcache/internal/metrics"
)

// Inbox messages posted by a run.
const (
	SubjectNoTables = "ParseAmcache"
	DetailNoTables  = "No Amcache tables Selected to Parse"

	SubjectAnalyzed = "Amcache Parser"
	DetailAnalyzed  = "Amcache Has Been Analyzed"
)

// Notifier receives run progress. Implementations must not block for long;
// errors are theirs to log.
type Notifier interface {
	// TableCompleted fires once per successfully projected table.
	TableCompleted(ctx context.Context, module string, kind casestore.ArtifactKind)
	// RunCompleted fires once after the table loop.
	RunCompleted(ctx context.Context, module string, s Summary)
	// Message posts an informational message.
	Message(ctx context.Context, module, subject, detail string)
}

// Notifiers fans every call out to each notifier in order.
type Notifiers []Notifier

func (ns Notifiers) TableCompleted(ctx context.Context, module string, kind casestore.ArtifactKind) {
	for _, n := range ns {
		n.TableCompleted(ctx, module, kind)
	}
}

func (ns Notifiers) RunCompleted(ctx context.Context, module string, s Summary) {
	for _, n := range ns {
		n.RunCompleted(ctx, module, s)
	}
}

func (ns Notifiers) Message(ctx context.Context, module, subject, detail string) {
	for _, n := range ns {
		n.Message(ctx, module, subject, detail)
	}
}

// LogNotifier writes notifications to the standard logger.
type LogNotifier struct{}

func (LogNotifier) TableCompleted(_ context.Context, module string, kind casestore.ArtifactKind) {
	log.Printf("notify: module=%q table_completed kind=%s id=%d", module, kind.Name, kind.ID)
}

func (LogNotifier) RunCompleted(_ context.Context, module string, s Summary) {
	log.Printf("notify: module=%q run_completed run=%s processed=%d failed=%d persisted=%d",
		module, s.RunID, s.TablesProcessed, s.TablesFailed, s.Persisted)
}

func (LogNotifier) Message(_ context.Context, module, subject, detail string) {
	log.Printf("notify: module=%q subject=%q %s", module, subject, detail)
}

// StoreNotifier posts messages and the run-complete notice to the case
// store inbox.
type StoreNotifier struct {
	Poster casestore.MessagePoster
}

func (StoreNotifier) TableCompleted(context.Context, string, casestore.ArtifactKind) {}

func (n StoreNotifier) RunCompleted(ctx context.Context, module string, s Summary) {
	detail := fmt.Sprintf("%s (run %s: %d of %d tables, %d records, %d rows skipped)",
		DetailAnalyzed, s.RunID, s.TablesProcessed, s.TablesMatched, s.Persisted, s.Skipped)
	n.Message(ctx, module, SubjectAnalyzed, detail)
}

func (n StoreNotifier) Message(ctx context.Context, module, subject, detail string) {
	if n.Poster == nil {
		return
	}
	if err := n.Poster.PostMessage(ctx, casestore.Message{Module: module, Subject: subject, Detail: detail}); err != nil {
		log.Printf("notify: post message subject=%q: %v", subject, err)
	}
}

// MetricsNotifier records each completed run as a "run" step.
type MetricsNotifier struct {
	Job string
}

func (MetricsNotifier) TableCompleted(context.Context, string, casestore.ArtifactKind) {}

func (n MetricsNotifier) RunCompleted(_ context.Context, _ string, s Summary) {
	var err error
	if s.TablesFailed > 0 {
		err = fmt.Errorf("%d tables failed", s.TablesFailed)
	}
	metrics.RecordStep(n.Job, "run", err, s.Duration)
}

func (MetricsNotifier) Message(context.Context, string, string, string) {}

// NewNotifier builds the default fan-out for store: log, store inbox when
// supported, then metrics under job.
func NewNotifier(store casestore.Store, job string) Notifier {
	ns := Notifiers{LogNotifier{}}
	if p, ok := store.(casestore.MessagePoster); ok {
		ns = append(ns, StoreNotifier{Poster: p})
	}
	return append(ns, MetricsNotifier{Job: job})
}
