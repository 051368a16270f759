package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// unavailable wraps an RPC failure as domain.ErrAdapterUnavailable.
func unavailable(dex, op string, err error) error {
	return fmt.Errorf("feed: %s: %s: %w: %w", dex, op, domain.ErrAdapterUnavailable, err)
}

// invalidPair reports that dex does not list pair.
func invalidPair(dex, pair, why string) error {
	return fmt.Errorf("feed: %s: %s: %s: %w", dex, pair, why, domain.ErrInvalidPair)
}

// classifyCall maps an eth_call error. Execution reverts on a quote path mean
// the route does not exist; everything else is treated as transient.
func classifyCall(dex, pair, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return unavailable(dex, op, err)
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "execution reverted") &&
		(strings.Contains(msg, "pair") || strings.Contains(msg, "liquidity") || strings.Contains(msg, "path")) {
		return invalidPair(dex, pair, op+" reverted")
	}
	return unavailable(dex, op, err)
}
