package pipeline

import (
	"context"

	"github.com/fyrsmithlabs/answerd/internal/docstore"
	"github.com/fyrsmithlabs/answerd/internal/tenant"
)

// Document fetches one document's metadata.
func (p *Pipeline) Document(ctx context.Context, b *tenant.Bundle, docID string) (*docstore.Document, error) {
	docs, err := p.docs.ForTenant(b.Tenant.Slug)
	if err != nil {
		return nil, err
	}
	return docs.GetDocument(ctx, docID)
}

// QALogs lists a tenant's question/answer audit records, newest first.
// With flaggedOnly set only unreviewed flagged records are returned.
func (p *Pipeline) QALogs(ctx context.Context, b *tenant.Bundle, flaggedOnly bool, limit int) ([]docstore.QALog, error) {
	docs, err := p.docs.ForTenant(b.Tenant.Slug)
	if err != nil {
		return nil, err
	}
	return docs.ListQALogs(ctx, flaggedOnly, limit)
}

// FlagQALog marks an audit record for human review.
func (p *Pipeline) FlagQALog(ctx context.Context, b *tenant.Bundle, logID string) error {
	docs, err := p.docs.ForTenant(b.Tenant.Slug)
	if err != nil {
		return err
	}
	return docs.FlagQALog(ctx, logID)
}

// ReviewQALog resolves a flagged record with a reviewer note.
func (p *Pipeline) ReviewQALog(ctx context.Context, b *tenant.Bundle, logID, note string) error {
	docs, err := p.docs.ForTenant(b.Tenant.Slug)
	if err != nil {
		return err
	}
	return docs.ReviewQALog(ctx, logID, note)
}
