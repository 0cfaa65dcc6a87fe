package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
	"go.uber.org/zap"

	"github.com/hwalton/brickstock/internal/domain"
	"github.com/hwalton/brickstock/internal/store"
)

// MinTitleSimilarity is the Jaro-Winkler score a title match needs.
const MinTitleSimilarity = 0.85

var setNumberRe = regexp.MustCompile(`\b(\d{3,7})(?:-(\d{1,2}))?\b`)

// NormalizeSetNumber turns "75192" or "75192-1" into "75192-1".
func NormalizeSetNumber(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if !strings.Contains(s, "-") {
		return s + "-1"
	}
	return s
}

// SetNumbersIn returns every set-number-looking token in s, normalized, in order.
func SetNumbersIn(s string) []string {
	var out []string
	for _, m := range setNumberRe.FindAllStringSubmatch(s, -1) {
		n := m[1]
		if m[2] != "" {
			n += "-" + m[2]
		}
		out = append(out, NormalizeSetNumber(n))
	}
	return out
}

// InventoryMatcher links sold order lines to unsold inventory items so that
// stock status and cost of goods follow sales.
type InventoryMatcher struct {
	store  InventoryLinkStore
	metric *metrics.JaroWinkler
	logger *zap.Logger
}

func NewInventoryMatcher(s InventoryLinkStore, logger *zap.Logger) *InventoryMatcher {
	m := metrics.NewJaroWinkler()
	m.CaseSensitive = false
	return &InventoryMatcher{store: s, metric: m, logger: logger.Named("inventory.matcher")}
}

// LinkSoldItems matches each unlinked sold line since the given time, trying
// exact SKU, then a set number found in the line, then the closest title. A
// line selling several units marks that many distinct items sold; when fewer
// match, the ones found are linked and the shortfall is logged.
// It returns the number of inventory items marked sold.
func (m *InventoryMatcher) LinkSoldItems(ctx context.Context, ownerID string, platform domain.Platform, since time.Time) (int, error) {
	lines, err := m.store.UnlinkedSoldLines(ctx, ownerID, platform, since)
	if err != nil {
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}
	unsold, err := m.store.ListUnsoldInventory(ctx, ownerID)
	if err != nil {
		return 0, err
	}

	used := map[string]bool{}
	linked := 0
	for _, line := range lines {
		qty := max(line.Quantity, 1)
		var (
			ids []string
			how string
		)
		for len(ids) < qty {
			item, h, ok := m.match(line, unsold, used)
			if !ok {
				break
			}
			used[item.ID] = true
			ids = append(ids, item.ID)
			how = h
		}
		if len(ids) == 0 {
			continue
		}
		err := m.store.LinkSale(ctx, ownerID, line, ids)
		if errors.Is(err, store.ErrNotFound) {
			// sold concurrently
			continue
		}
		if err != nil {
			return linked, fmt.Errorf("link %s line %d: %w", line.PlatformOrderID, line.LineNo, err)
		}
		linked += len(ids)
		if len(ids) < qty {
			m.logger.Warn("not enough stock to link every unit", zap.String("owner_id", ownerID),
				zap.String("order", line.PlatformOrderID), zap.Int("quantity", qty), zap.Int("linked", len(ids)))
		}
		m.logger.Debug("linked sale", zap.String("owner_id", ownerID), zap.String("order", line.PlatformOrderID),
			zap.Strings("inventory_ids", ids), zap.String("match", how))
	}
	if linked > 0 {
		m.logger.Info("linked sold items", zap.String("owner_id", ownerID), zap.String("platform", string(platform)), zap.Int("linked", linked))
	}
	return linked, nil
}

func (m *InventoryMatcher) match(line store.SoldLine, unsold []domain.InventoryItem, used map[string]bool) (domain.InventoryItem, string, bool) {
	if line.SKU != "" {
		for _, it := range unsold {
			if !used[it.ID] && it.SKU != "" && strings.EqualFold(it.SKU, line.SKU) {
				return it, "sku", true
			}
		}
	}

	candidates := SetNumbersIn(line.ItemNumber + " " + line.Title)
	for _, sn := range candidates {
		for _, it := range unsold {
			if !used[it.ID] && it.SetNumber != "" && NormalizeSetNumber(it.SetNumber) == sn {
				return it, "set_number", true
			}
		}
	}

	if line.Title == "" {
		return domain.InventoryItem{}, "", false
	}
	var (
		best      domain.InventoryItem
		bestScore float64
	)
	for _, it := range unsold {
		if used[it.ID] || it.Name == "" {
			continue
		}
		if score := strutil.Similarity(line.Title, it.Name, m.metric); score > bestScore {
			best, bestScore = it, score
		}
	}
	if bestScore >= MinTitleSimilarity {
		return best, "title", true
	}
	return domain.InventoryItem{}, "", false
}
