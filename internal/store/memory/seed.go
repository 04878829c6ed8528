package memory

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"storeops/backend/internal/domain"
)

//go:embed seed.yaml
var defaultSeed []byte

type seedFile struct {
	Warehouses []struct {
		ID      int64  `yaml:"id"`
		Name    string `yaml:"name"`
		Address string `yaml:"address"`
	} `yaml:"warehouses"`
	Products []struct {
		ID         int64  `yaml:"id"`
		Name       string `yaml:"name"`
		Unit       string `yaml:"unit"`
		PriceCents int64  `yaml:"price_cents"`
		Active     *bool  `yaml:"active"`
	} `yaml:"products"`
	Inventory []struct {
		ProductID   int64  `yaml:"product_id"`
		WarehouseID *int64 `yaml:"warehouse_id"`
		Quantity    int    `yaml:"quantity"`
	} `yaml:"inventory"`
	Customers []struct {
		ID       int64  `yaml:"id"`
		FullName string `yaml:"full_name"`
		Phone    string `yaml:"phone"`
	} `yaml:"customers"`
	Users []struct {
		ID          int64  `yaml:"id"`
		Username    string `yaml:"username"`
		FullName    string `yaml:"full_name"`
		Role        string `yaml:"role"`
		PasswordEnv string `yaml:"password_env"`
		Password    string `yaml:"password"`
	} `yaml:"users"`
	Promotions []struct {
		Code          string  `yaml:"code"`
		Description   string  `yaml:"description"`
		DiscountType  string  `yaml:"discount_type"`
		DiscountValue string  `yaml:"discount_value"`
		StartDate     string  `yaml:"start_date"`
		EndDate       string  `yaml:"end_date"`
		MinOrderCents int64   `yaml:"min_order_cents"`
		UsageLimit    int     `yaml:"usage_limit"`
		UsedCount     int     `yaml:"used_count"`
		ApplyScope    string  `yaml:"apply_scope"`
		ProductIDs    []int64 `yaml:"product_ids"`
	} `yaml:"promotions"`
}

// NewSeeded returns a store loaded with the embedded demo catalogue.
func NewSeeded() *Store {
	s, err := newFromSeed(defaultSeed)
	if err != nil {
		panic(fmt.Sprintf("memory: embedded seed is invalid: %v", err))
	}
	return s
}

// NewFromSeedFile loads the catalogue from a YAML file with the same shape
// as the embedded seed.
func NewFromSeedFile(path string) (*Store, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return newFromSeed(raw)
}

func newFromSeed(raw []byte) (*Store, error) {
	var seed seedFile
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}

	now := time.Now().UTC()
	s := New()
	d := s.data

	for _, w := range seed.Warehouses {
		d.warehouses[w.ID] = domain.Warehouse{ID: w.ID, Name: w.Name, Address: w.Address}
		d.bump("warehouse", w.ID)
	}
	for _, p := range seed.Products {
		active := true
		if p.Active != nil {
			active = *p.Active
		}
		d.products[p.ID] = domain.Product{ID: p.ID, Name: p.Name, Unit: p.Unit, PriceCents: p.PriceCents, Active: active}
		d.bump("product", p.ID)
	}
	for _, e := range seed.Inventory {
		if _, ok := d.products[e.ProductID]; !ok {
			return nil, fmt.Errorf("seed inventory references unknown product %d", e.ProductID)
		}
		id := d.next("inventory")
		d.inventory[id] = domain.InventoryEntry{ID: id, ProductID: e.ProductID, WarehouseID: e.WarehouseID, Quantity: e.Quantity, UpdatedAt: now}
	}
	for _, c := range seed.Customers {
		d.customers[c.ID] = domain.Customer{ID: c.ID, FullName: c.FullName, Phone: c.Phone}
		d.bump("customer", c.ID)
	}
	for _, p := range seed.Promotions {
		value, err := decimal.NewFromString(p.DiscountValue)
		if err != nil {
			return nil, fmt.Errorf("seed promotion %s: %w", p.Code, err)
		}
		start, err := time.Parse(time.DateOnly, p.StartDate)
		if err != nil {
			return nil, fmt.Errorf("seed promotion %s: %w", p.Code, err)
		}
		end, err := time.Parse(time.DateOnly, p.EndDate)
		if err != nil {
			return nil, fmt.Errorf("seed promotion %s: %w", p.Code, err)
		}
		id := d.next("promotion")
		d.promotions[id] = domain.Promotion{
			ID:            id,
			Code:          p.Code,
			Description:   p.Description,
			DiscountType:  p.DiscountType,
			DiscountValue: value,
			StartDate:     start,
			EndDate:       end,
			MinOrderCents: p.MinOrderCents,
			UsageLimit:    p.UsageLimit,
			UsedCount:     p.UsedCount,
			Status:        domain.PromotionStatusActive,
			ApplyScope:    p.ApplyScope,
			ProductIDs:    p.ProductIDs,
			CreatedAt:     now,
		}
	}

	usedDefault := false
	for _, u := range seed.Users {
		password := u.Password
		if u.PasswordEnv != "" {
			if v := os.Getenv(u.PasswordEnv); v != "" {
				password = v
			} else {
				usedDefault = true
			}
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", u.Username, err)
		}
		s.users[u.ID] = domain.UserAccount{
			ID:        u.ID,
			Username:  u.Username,
			FullName:  u.FullName,
			Password:  string(hash),
			Role:      u.Role,
			Active:    true,
			CreatedAt: now,
		}
		if u.ID > s.lastUserID {
			s.lastUserID = u.ID
		}
	}
	if usedDefault {
		zap.L().Warn("memory store is using default dev credentials; set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override")
	}

	return s, nil
}
