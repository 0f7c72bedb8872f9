package artifacts

import (
	"context"
	"fmt"

	"nl2sqlgen-client/internal/services/orchestrator"
)

// Kind identifies a downloadable artifact class
type Kind string

const (
	// KindDataset is the primary training dataset (nl2sql.jsonl)
	KindDataset Kind = "dataset"
	// KindRAGBundle is the MySQL-only schema/RAG bundle (ddl_mysql.zip)
	KindRAGBundle Kind = "rag"
)

// backend download identifiers per artifact kind
var downloadNames = map[Kind]string{
	KindDataset:   "latest",
	KindRAGBundle: "rag",
}

// Enabled reports whether the given artifact can be fetched for this run
// state. Pure function of the snapshot: the dataset requires a completed
// run; the RAG bundle additionally requires the mysql dialect.
func Enabled(snap orchestrator.Snapshot, kind Kind) bool {
	if snap.Phase != orchestrator.PhaseCompleted {
		return false
	}
	switch kind {
	case KindDataset:
		return true
	case KindRAGBundle:
		return snap.Dialect == "mysql"
	default:
		return false
	}
}

// EnabledArtifacts lists every artifact fetchable for this run state
func EnabledArtifacts(snap orchestrator.Snapshot) []Kind {
	var kinds []Kind
	for _, kind := range []Kind{KindDataset, KindRAGBundle} {
		if Enabled(snap, kind) {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Downloader fetches artifact bytes by backend identifier. api.Client
// satisfies it.
type Downloader interface {
	DownloadArtifact(ctx context.Context, name, destPath string) error
}

// Fetch downloads one artifact, refusing kinds the current state does not
// enable.
func Fetch(ctx context.Context, client Downloader, snap orchestrator.Snapshot, kind Kind, destPath string) error {
	if !Enabled(snap, kind) {
		return fmt.Errorf("artifact %q is not available (phase %s, dialect %q)", kind, snap.Phase, snap.Dialect)
	}

	name, ok := downloadNames[kind]
	if !ok {
		return fmt.Errorf("unknown artifact kind %q", kind)
	}

	return client.DownloadArtifact(ctx, name, destPath)
}
