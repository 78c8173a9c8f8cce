package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// FallbackNewsImage replaces empty article images in the news feed.
const FallbackNewsImage = "https://www.cryptocompare.com/media/37746251/btc.png"

// FetchNews returns the news feed. It is never cached. Articles that carry
// an IMAGE_URL field with an empty value get FallbackNewsImage instead.
func (s *MarketService) FetchNews(ctx context.Context, q NewsQuery) (json.RawMessage, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	body, err := s.Fetch(ctx, q.Request())
	if err != nil {
		return nil, err
	}
	return fillNewsImages(ctx, body), nil
}

// fillNewsImages patches empty IMAGE_URL fields in the Data array. A field
// that is absent is left absent.
func fillNewsImages(ctx context.Context, body []byte) []byte {
	articles := gjson.GetBytes(body, "Data")
	if !articles.IsArray() {
		return body
	}

	var patched int
	for i, a := range articles.Array() {
		img := a.Get("IMAGE_URL")
		if !img.Exists() || img.String() != "" {
			continue
		}
		out, err := sjson.SetBytes(body, "Data."+strconv.Itoa(i)+".IMAGE_URL", FallbackNewsImage)
		if err != nil {
			slog.LogAttrs(ctx, slog.LevelWarn, "news image patch failed",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		body = out
		patched++
	}
	if patched > 0 {
		slog.LogAttrs(ctx, slog.LevelDebug, "news fallback images applied",
			slog.Int("count", patched),
		)
	}
	return body
}
