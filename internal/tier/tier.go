// Package tier holds the subscription tiers companies are placed on. Tier
// features are advisory and never gate a role check.
package tier

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	identitydomain "github.com/smallbiznis/greenledger/internal/identity/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

//go:embed tiers.yaml
var tiersYAML []byte

// Unlimited marks a limit without a cap.
const Unlimited = -1

type Tier struct {
	Code      string                      `gorm:"type:varchar(32);primaryKey" json:"code"`
	Name      string                      `gorm:"type:varchar(64);not null" json:"name"`
	Features  datatypes.JSONSlice[string] `json:"features"`
	Limits    datatypes.JSONMap           `json:"limits"`
	CreatedAt time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"not null" json:"updated_at"`
}

func (Tier) TableName() string { return "subscription_tiers" }

var ErrUnknownTier = errors.New("unknown_tier")

type item struct {
	Code     string         `yaml:"code"`
	Name     string         `yaml:"name"`
	Features []string       `yaml:"features"`
	Limits   map[string]int `yaml:"limits"`
}

// Packaged parses the tiers shipped with the binary.
func Packaged() ([]Tier, error) {
	return Parse(tiersYAML)
}

func Parse(raw []byte) ([]Tier, error) {
	var doc struct {
		Tiers []item `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse tiers: %w", err)
	}
	seen := map[string]bool{}
	out := make([]Tier, 0, len(doc.Tiers))
	for _, it := range doc.Tiers {
		code := strings.ToLower(strings.TrimSpace(it.Code))
		if code == "" || strings.TrimSpace(it.Name) == "" {
			return nil, fmt.Errorf("tier %q: code and name are required", it.Code)
		}
		if seen[code] {
			return nil, fmt.Errorf("tier %q: duplicate code", code)
		}
		seen[code] = true
		limits := datatypes.JSONMap{}
		for k, v := range it.Limits {
			if v < Unlimited {
				return nil, fmt.Errorf("tier %q limit %s: must be -1 or more", code, k)
			}
			limits[k] = v
		}
		out = append(out, Tier{
			Code:     code,
			Name:     strings.TrimSpace(it.Name),
			Features: datatypes.JSONSlice[string](it.Features),
			Limits:   limits,
		})
	}
	return out, nil
}

// Store reads and seeds tiers. It satisfies the identity tier lookup.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewStore(db *gorm.DB, log *zap.Logger) *Store {
	return &Store{db: db, log: log.Named("tier.store")}
}

// Seed upserts the given tiers by code.
func (s *Store) Seed(ctx context.Context, tiers []Tier, now time.Time) (int, error) {
	for i := range tiers {
		tiers[i].CreatedAt = now
		tiers[i].UpdatedAt = now
	}
	if len(tiers) == 0 {
		return 0, nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "features", "limits", "updated_at"}),
		}).
		Create(&tiers).Error
	if err != nil {
		return 0, err
	}
	s.log.Info("subscription tiers seeded", zap.Int("tiers", len(tiers)))
	return len(tiers), nil
}

func (s *Store) List(ctx context.Context) ([]Tier, error) {
	var out []Tier
	err := s.db.WithContext(ctx).Order("code").Find(&out).Error
	return out, err
}

func (s *Store) Get(ctx context.Context, code string) (*Tier, error) {
	var out []Tier
	err := s.db.WithContext(ctx).
		Where("code = ?", strings.ToLower(strings.TrimSpace(code))).
		Limit(1).
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return &out[0], nil
}

func (s *Store) TierFeatures(ctx context.Context, code string) ([]string, error) {
	t, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrUnknownTier
	}
	return []string(t.Features), nil
}

var Module = fx.Module("tier",
	fx.Provide(NewStore),
	fx.Provide(func(s *Store) identitydomain.TierLookup { return s }),
)
