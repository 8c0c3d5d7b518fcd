package backend

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WithTracing opens a span around every call of b. Spans use the global
// tracer provider, which is a no-op unless tracing is enabled.
func WithTracing(b Backend) Backend {
	t := &tracer{tracer: otel.Tracer("snapgram.backend")}
	out := Backend{}
	if b.Accounts != nil {
		out.Accounts = &tracedAccounts{tracer: t, next: b.Accounts}
	}
	if b.Documents != nil {
		out.Documents = &tracedDocuments{tracer: t, next: b.Documents}
	}
	if b.Assets != nil {
		out.Assets = &tracedAssets{tracer: t, next: b.Assets}
	}
	return out
}

type tracer struct {
	tracer trace.Tracer
}

func (t *tracer) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "backend."+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...))
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

type tracedAccounts struct {
	*tracer
	next Accounts
}

func (a *tracedAccounts) CreateAccount(ctx context.Context, email, password, name string) (acc Account, err error) {
	ctx, span := a.start(ctx, "CreateAccount")
	defer func() { finish(span, err) }()
	return a.next.CreateAccount(ctx, email, password, name)
}

func (a *tracedAccounts) CreateSession(ctx context.Context, email, password string) (s Session, err error) {
	ctx, span := a.start(ctx, "CreateSession")
	defer func() { finish(span, err) }()
	return a.next.CreateSession(ctx, email, password)
}

func (a *tracedAccounts) ResumeSession(ctx context.Context, token string) error {
	return a.next.ResumeSession(ctx, token)
}

func (a *tracedAccounts) DeleteSession(ctx context.Context) (err error) {
	ctx, span := a.start(ctx, "DeleteSession")
	defer func() { finish(span, err) }()
	return a.next.DeleteSession(ctx)
}

func (a *tracedAccounts) GetAccount(ctx context.Context) (acc Account, err error) {
	ctx, span := a.start(ctx, "GetAccount")
	defer func() { finish(span, err) }()
	return a.next.GetAccount(ctx)
}

type tracedDocuments struct {
	*tracer
	next Documents
}

func (d *tracedDocuments) GetDocument(ctx context.Context, collection, id string) (doc Document, err error) {
	ctx, span := d.start(ctx, "GetDocument",
		attribute.String("collection", collection), attribute.String("document.id", id))
	defer func() { finish(span, err) }()
	return d.next.GetDocument(ctx, collection, id)
}

func (d *tracedDocuments) ListDocuments(ctx context.Context, collection string, q Query) (docs []Document, err error) {
	ctx, span := d.start(ctx, "ListDocuments",
		attribute.String("collection", collection),
		attribute.String("cursor", q.CursorAfter),
		attribute.Int("limit", q.Limit))
	defer func() {
		span.SetAttributes(attribute.Int("result.count", len(docs)))
		finish(span, err)
	}()
	return d.next.ListDocuments(ctx, collection, q)
}

func (d *tracedDocuments) CreateDocument(ctx context.Context, collection, id string, data map[string]any) (doc Document, err error) {
	ctx, span := d.start(ctx, "CreateDocument", attribute.String("collection", collection))
	defer func() { finish(span, err) }()
	return d.next.CreateDocument(ctx, collection, id, data)
}

func (d *tracedDocuments) UpdateDocument(ctx context.Context, collection, id string, data map[string]any) (doc Document, err error) {
	ctx, span := d.start(ctx, "UpdateDocument",
		attribute.String("collection", collection), attribute.String("document.id", id))
	defer func() { finish(span, err) }()
	return d.next.UpdateDocument(ctx, collection, id, data)
}

func (d *tracedDocuments) DeleteDocument(ctx context.Context, collection, id string) (err error) {
	ctx, span := d.start(ctx, "DeleteDocument",
		attribute.String("collection", collection), attribute.String("document.id", id))
	defer func() { finish(span, err) }()
	return d.next.DeleteDocument(ctx, collection, id)
}

type tracedAssets struct {
	*tracer
	next Assets
}

func (a *tracedAssets) UploadAsset(ctx context.Context, id, contentType string, body io.Reader) (err error) {
	ctx, span := a.start(ctx, "UploadAsset",
		attribute.String("asset.id", id), attribute.String("content_type", contentType))
	defer func() { finish(span, err) }()
	return a.next.UploadAsset(ctx, id, contentType, body)
}

func (a *tracedAssets) DeleteAsset(ctx context.Context, id string) (err error) {
	ctx, span := a.start(ctx, "DeleteAsset", attribute.String("asset.id", id))
	defer func() { finish(span, err) }()
	return a.next.DeleteAsset(ctx, id)
}

func (a *tracedAssets) AssetPreviewURL(ctx context.Context, id string) (url string, err error) {
	ctx, span := a.start(ctx, "AssetPreviewURL", attribute.String("asset.id", id))
	defer func() { finish(span, err) }()
	return a.next.AssetPreviewURL(ctx, id)
}
