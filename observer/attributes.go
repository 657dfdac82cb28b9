package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for pipeline observability spans and metrics.
var (
	AttrEmbedModel     = attribute.Key("embedding.model")
	AttrEmbedProvider  = attribute.Key("embedding.provider")
	AttrEmbedTextCount = attribute.Key("embedding.text_count")
	AttrEmbedDims      = attribute.Key("embedding.dimensions")

	AttrIndexType  = attribute.Key("index.type")
	AttrIndexOp    = attribute.Key("index.operation")
	AttrDocumentID = attribute.Key("index.document_id")
	AttrDocCount   = attribute.Key("index.document_count")

	AttrSearchLimit    = attribute.Key("search.limit")
	AttrSearchHitCount = attribute.Key("search.hit_count")
)
