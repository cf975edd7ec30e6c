package upstream

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"

	"github.com/Stattrackrr/stattrackr-sub010/errors"
)

// pageEnvelope is the provider's pagination wrapper: a data block plus an
// opaque cursor for the next page, empty when the listing is exhausted.
type pageEnvelope struct {
	Data       json.RawMessage `json:"data"`
	NextCursor string          `json:"nextCursor"`
}

// PagedResult carries the data blocks of the pages fetched so far.
// Partial is set when a timeout cut the loop short after page 1; the
// accumulated pages are still usable.
type PagedResult struct {
	Pages   [][]byte
	Partial bool
}

// FetchAllPages walks a cursor-paginated listing, accumulating data blocks
// until the provider stops returning a cursor or the page cap is hit.
//
// A timeout on the first page propagates so the caller can substitute
// cached data. A timeout on a later page returns the pages already in
// hand with Partial set: partial results beat total failure.
func (c *Client) FetchAllPages(ctx context.Context, baseURL string) (PagedResult, error) {
	var result PagedResult
	cursor := ""

	for page := 1; page <= c.cfg.MaxPages; page++ {
		pageURL, err := withCursor(baseURL, cursor)
		if err != nil {
			return result, errors.WrapPermanent(err, "upstream", "FetchAllPages", "build page url")
		}

		body, err := c.FetchPage(ctx, pageURL)
		if err != nil {
			if stderrors.Is(err, errors.ErrUpstreamTimeout) && len(result.Pages) > 0 {
				c.logger.Warn("timeout mid-pagination, returning partial result",
					"url", baseURL, "pages", len(result.Pages))
				result.Partial = true
				return result, nil
			}
			return result, err
		}

		var envelope pageEnvelope
		if err := json.Unmarshal(body, &envelope); err != nil {
			return result, errors.WrapPermanent(errors.ErrMalformedPayload, "upstream", "FetchAllPages",
				fmt.Sprintf("page %d envelope: %v", page, err))
		}

		result.Pages = append(result.Pages, envelope.Data)

		if envelope.NextCursor == "" {
			return result, nil
		}
		cursor = envelope.NextCursor
	}

	// Page cap reached with a cursor still pending; what we have is complete
	// pages, so no partial flag.
	return result, nil
}

// withCursor appends the pagination cursor to a request URL.
func withCursor(baseURL, cursor string) (string, error) {
	if cursor == "" {
		return baseURL, nil
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("cursor", cursor)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
