package grid

import (
	"hash/fnv"
	"strings"

	"binance-regime-grid-go/internal/models"

	"github.com/jxskiss/base62"
)

const clientIDPrefix = "rg"

// GridTag is the short, stable base62 tag of a grid id used in client order ids.
func GridTag(gridID string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(gridID))
	return string(base62.FormatUint(h.Sum64()))
}

// ClientOrderID builds the venue client order id for a level order:
// rg<tag>-<generation>-<level><b|s>, well within the 36 character limit.
func ClientOrderID(gridID string, generation int64, level int, side models.Side) string {
	var b strings.Builder
	b.WriteString(clientIDPrefix)
	b.WriteString(GridTag(gridID))
	b.WriteByte('-')
	b.Write(base62.FormatUint(uint64(generation)))
	b.WriteByte('-')
	b.Write(base62.FormatUint(uint64(level)))
	if side == models.Buy {
		b.WriteByte('b')
	} else {
		b.WriteByte('s')
	}
	return b.String()
}

// ParseClientOrderID extracts the grid tag, level and side from an id built by ClientOrderID.
func ParseClientOrderID(id string) (tag string, level int, side models.Side, ok bool) {
	if !strings.HasPrefix(id, clientIDPrefix) {
		return "", 0, "", false
	}
	parts := strings.Split(id[len(clientIDPrefix):], "-")
	if len(parts) != 3 || len(parts[2]) < 2 {
		return "", 0, "", false
	}
	last := parts[2]
	switch last[len(last)-1] {
	case 'b':
		side = models.Buy
	case 's':
		side = models.Sell
	default:
		return "", 0, "", false
	}
	n, err := base62.ParseUint([]byte(last[:len(last)-1]))
	if err != nil {
		return "", 0, "", false
	}
	return parts[0], int(n), side, true
}
