package ledger

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"main/internal/schema"
)

const (
	defaultPostgresHost    = "localhost"
	defaultPostgresPort    = 5432
	defaultPostgresSSLMode = "disable"
)

// PostgresOption defines connection options for the Postgres store.
type PostgresOption struct {
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	SSLMode    string
	ConnString string
	Config     *gorm.Config
}

func (opt PostgresOption) dsn() string {
	if opt.ConnString != "" {
		return opt.ConnString
	}

	host := opt.Host
	if host == "" {
		host = defaultPostgresHost
	}

	port := opt.Port
	if port == 0 {
		port = defaultPostgresPort
	}

	sslMode := opt.SSLMode
	if sslMode == "" {
		sslMode = defaultPostgresSSLMode
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", host, port),
	}

	if opt.User != "" {
		if opt.Password != "" {
			u.User = url.UserPassword(opt.User, opt.Password)
		} else {
			u.User = url.User(opt.User)
		}
	}

	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	query := url.Values{}
	query.Set("sslmode", sslMode)
	u.RawQuery = query.Encode()

	return u.String()
}

type accountRow struct {
	Profile       string          `gorm:"primaryKey;column:profile"`
	Version       int             `gorm:"column:version"`
	Currency      string          `gorm:"column:currency"`
	Balance       decimal.Decimal `gorm:"column:balance;type:numeric"`
	LockedMargin  decimal.Decimal `gorm:"column:locked_margin;type:numeric"`
	RealizedPnL   decimal.Decimal `gorm:"column:realized_pnl;type:numeric"`
	TotalFeesPaid decimal.Decimal `gorm:"column:total_fees_paid;type:numeric"`
	TotalFunding  decimal.Decimal `gorm:"column:total_funding;type:numeric"`
	Leverages     string          `gorm:"column:leverages"`
	SavedAt       time.Time       `gorm:"column:saved_at"`
	UpdatedAt     time.Time       `gorm:"column:updated_at"`
}

func (accountRow) TableName() string { return "paper_accounts" }

type positionRow struct {
	ID                string          `gorm:"primaryKey;column:id"`
	Profile           string          `gorm:"index;column:profile"`
	Symbol            string          `gorm:"column:symbol"`
	Side              string          `gorm:"column:side"`
	Quantity          decimal.Decimal `gorm:"column:quantity;type:numeric"`
	EntryPrice        decimal.Decimal `gorm:"column:entry_price;type:numeric"`
	Leverage          int             `gorm:"column:leverage"`
	Margin            decimal.Decimal `gorm:"column:margin;type:numeric"`
	StopLoss          decimal.Decimal `gorm:"column:stop_loss;type:numeric"`
	TakeProfit        decimal.Decimal `gorm:"column:take_profit;type:numeric"`
	Status            string          `gorm:"column:status"`
	CloseReason       string          `gorm:"column:close_reason"`
	RealizedPnL       decimal.Decimal `gorm:"column:realized_pnl;type:numeric"`
	CumulativeFunding decimal.Decimal `gorm:"column:cumulative_funding;type:numeric"`
	LastFundingAt     time.Time       `gorm:"column:last_funding_at"`
	OpenedAt          time.Time       `gorm:"column:opened_at"`
	ClosedAt          time.Time       `gorm:"column:closed_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at"`
}

func (positionRow) TableName() string { return "paper_positions" }

type orderRow struct {
	ID             string          `gorm:"primaryKey;column:id"`
	Profile        string          `gorm:"index;column:profile"`
	Symbol         string          `gorm:"column:symbol"`
	Side           string          `gorm:"column:side"`
	Type           string          `gorm:"column:type"`
	Quantity       decimal.Decimal `gorm:"column:quantity;type:numeric"`
	LimitPrice     decimal.Decimal `gorm:"column:limit_price;type:numeric"`
	Leverage       int             `gorm:"column:leverage"`
	ReduceOnly     bool            `gorm:"column:reduce_only"`
	StopLoss       decimal.Decimal `gorm:"column:stop_loss;type:numeric"`
	TakeProfit     decimal.Decimal `gorm:"column:take_profit;type:numeric"`
	Status         string          `gorm:"column:status"`
	ReservedMargin decimal.Decimal `gorm:"column:reserved_margin;type:numeric"`
	FillPrice      decimal.Decimal `gorm:"column:fill_price;type:numeric"`
	PositionID     string          `gorm:"column:position_id"`
	Reason         string          `gorm:"column:reason"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
	ExpiresAt      time.Time       `gorm:"column:expires_at"`
}

func (orderRow) TableName() string { return "paper_orders" }

type tradeRow struct {
	ID         string          `gorm:"primaryKey;column:id"`
	Profile    string          `gorm:"index;column:profile"`
	PositionID string          `gorm:"column:position_id"`
	OrderID    string          `gorm:"column:order_id"`
	Symbol     string          `gorm:"column:symbol"`
	Side       string          `gorm:"column:side"`
	Action     string          `gorm:"column:action"`
	Quantity   decimal.Decimal `gorm:"column:quantity;type:numeric"`
	Price      decimal.Decimal `gorm:"column:price;type:numeric"`
	Fee        decimal.Decimal `gorm:"column:fee;type:numeric"`
	PnL        decimal.Decimal `gorm:"column:pnl;type:numeric"`
	Reason     string          `gorm:"column:reason"`
	Timestamp  time.Time       `gorm:"column:ts"`
}

func (tradeRow) TableName() string { return "paper_trades" }

type fundingRow struct {
	ID         string          `gorm:"primaryKey;column:id"`
	Profile    string          `gorm:"index;column:profile"`
	PositionID string          `gorm:"column:position_id"`
	Symbol     string          `gorm:"column:symbol"`
	Side       string          `gorm:"column:side"`
	Rate       decimal.Decimal `gorm:"column:rate;type:numeric"`
	MarkPrice  decimal.Decimal `gorm:"column:mark_price;type:numeric"`
	Amount     decimal.Decimal `gorm:"column:amount;type:numeric"`
	WindowAt   time.Time       `gorm:"column:window_at"`
	SettledAt  time.Time       `gorm:"column:settled_at"`
}

func (fundingRow) TableName() string { return "paper_funding_payments" }

// Postgres persists snapshots into relational tables. Each save
// replaces the profile's rows inside one transaction.
type Postgres struct {
	db *gorm.DB
}

func NewPostgres(option PostgresOption) (*Postgres, error) {
	config := option.Config
	if config == nil {
		config = &gorm.Config{}
	}

	db, err := gorm.Open(postgres.Open(option.dsn()), config)
	if err != nil {
		return nil, errors.Wrap(err, "open postgres")
	}

	if err := db.AutoMigrate(&accountRow{}, &positionRow{}, &orderRow{}, &tradeRow{}, &fundingRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate ledger tables")
	}

	return &Postgres{db: db}, nil
}

func (p *Postgres) Save(ctx context.Context, snap *schema.Snapshot) error {
	if snap == nil || snap.Profile == "" {
		return errors.New("snapshot has no profile")
	}

	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		profile := snap.Profile

		for _, model := range []any{&accountRow{}, &positionRow{}, &orderRow{}, &tradeRow{}, &fundingRow{}} {
			if err := tx.Where("profile = ?", profile).Delete(model).Error; err != nil {
				return errors.Wrap(err, "clear profile rows")
			}
		}

		var leverages []byte
		if len(snap.Leverages) != 0 {
			var err error
			if leverages, err = json.Marshal(snap.Leverages); err != nil {
				return errors.Wrap(err, "encode leverage settings")
			}
		}

		w := snap.Wallet
		if err := tx.Create(&accountRow{
			Profile:       profile,
			Version:       snap.Version,
			Currency:      w.Currency,
			Balance:       w.Balance,
			LockedMargin:  w.LockedMargin,
			RealizedPnL:   w.RealizedPnL,
			TotalFeesPaid: w.TotalFeesPaid,
			TotalFunding:  w.TotalFunding,
			Leverages:     string(leverages),
			SavedAt:       snap.SavedAt,
			UpdatedAt:     w.UpdatedAt,
		}).Error; err != nil {
			return errors.Wrap(err, "insert account row")
		}

		if rows := positionRows(profile, snap.Positions); len(rows) != 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return errors.Wrap(err, "insert position rows")
			}
		}
		if rows := orderRows(profile, snap.Orders); len(rows) != 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return errors.Wrap(err, "insert order rows")
			}
		}
		if rows := tradeRows(profile, snap.Trades); len(rows) != 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return errors.Wrap(err, "insert trade rows")
			}
		}
		if rows := fundingRows(profile, snap.Funding); len(rows) != 0 {
			if err := tx.CreateInBatches(rows, 200).Error; err != nil {
				return errors.Wrap(err, "insert funding rows")
			}
		}
		return nil
	})
}

func (p *Postgres) Load(ctx context.Context, profile string) (*schema.Snapshot, error) {
	db := p.db.WithContext(ctx)

	var acct accountRow
	if err := db.Where("profile = ?", profile).First(&acct).Error; err != nil {
		if stderrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(ErrNotFound, "load profile").With("profile", profile)
		}
		return nil, errors.Wrap(err, "load account row")
	}

	snap := &schema.Snapshot{
		Version: acct.Version,
		Profile: profile,
		SavedAt: acct.SavedAt,
		Wallet: &schema.Wallet{
			Currency:      acct.Currency,
			Balance:       acct.Balance,
			LockedMargin:  acct.LockedMargin,
			RealizedPnL:   acct.RealizedPnL,
			TotalFeesPaid: acct.TotalFeesPaid,
			TotalFunding:  acct.TotalFunding,
			UpdatedAt:     acct.UpdatedAt,
		},
	}
	if acct.Leverages != "" {
		if err := json.Unmarshal([]byte(acct.Leverages), &snap.Leverages); err != nil {
			return nil, errors.Wrap(err, "decode leverage settings").With("profile", profile)
		}
	}

	var positions []positionRow
	if err := db.Where("profile = ?", profile).Order("opened_at").Find(&positions).Error; err != nil {
		return nil, errors.Wrap(err, "load position rows")
	}
	for _, r := range positions {
		snap.Positions = append(snap.Positions, &schema.Position{
			ID:                r.ID,
			Symbol:            r.Symbol,
			Side:              schema.Side(r.Side),
			Quantity:          r.Quantity,
			EntryPrice:        r.EntryPrice,
			Leverage:          r.Leverage,
			Margin:            r.Margin,
			StopLoss:          r.StopLoss,
			TakeProfit:        r.TakeProfit,
			Status:            schema.PositionStatus(r.Status),
			CloseReason:       schema.CloseReason(r.CloseReason),
			RealizedPnL:       r.RealizedPnL,
			CumulativeFunding: r.CumulativeFunding,
			LastFundingAt:     r.LastFundingAt,
			OpenedAt:          r.OpenedAt,
			ClosedAt:          r.ClosedAt,
			UpdatedAt:         r.UpdatedAt,
		})
	}

	var orders []orderRow
	if err := db.Where("profile = ?", profile).Order("created_at").Find(&orders).Error; err != nil {
		return nil, errors.Wrap(err, "load order rows")
	}
	for _, r := range orders {
		snap.Orders = append(snap.Orders, &schema.Order{
			ID:             r.ID,
			Symbol:         r.Symbol,
			Side:           schema.Side(r.Side),
			Type:           schema.OrderType(r.Type),
			Quantity:       r.Quantity,
			LimitPrice:     r.LimitPrice,
			Leverage:       r.Leverage,
			ReduceOnly:     r.ReduceOnly,
			StopLoss:       r.StopLoss,
			TakeProfit:     r.TakeProfit,
			Status:         schema.OrderStatus(r.Status),
			ReservedMargin: r.ReservedMargin,
			FillPrice:      r.FillPrice,
			PositionID:     r.PositionID,
			Reason:         r.Reason,
			CreatedAt:      r.CreatedAt,
			UpdatedAt:      r.UpdatedAt,
			ExpiresAt:      r.ExpiresAt,
		})
	}

	var trades []tradeRow
	if err := db.Where("profile = ?", profile).Order("ts").Find(&trades).Error; err != nil {
		return nil, errors.Wrap(err, "load trade rows")
	}
	for _, r := range trades {
		snap.Trades = append(snap.Trades, &schema.TradeRecord{
			ID:         r.ID,
			PositionID: r.PositionID,
			OrderID:    r.OrderID,
			Symbol:     r.Symbol,
			Side:       schema.Side(r.Side),
			Action:     schema.TradeAction(r.Action),
			Quantity:   r.Quantity,
			Price:      r.Price,
			Fee:        r.Fee,
			PnL:        r.PnL,
			Reason:     schema.CloseReason(r.Reason),
			Timestamp:  r.Timestamp,
		})
	}

	var funding []fundingRow
	if err := db.Where("profile = ?", profile).Order("settled_at").Find(&funding).Error; err != nil {
		return nil, errors.Wrap(err, "load funding rows")
	}
	for _, r := range funding {
		snap.Funding = append(snap.Funding, &schema.FundingPayment{
			ID:         r.ID,
			PositionID: r.PositionID,
			Symbol:     r.Symbol,
			Side:       schema.Side(r.Side),
			Rate:       r.Rate,
			MarkPrice:  r.MarkPrice,
			Amount:     r.Amount,
			WindowAt:   r.WindowAt,
			SettledAt:  r.SettledAt,
		})
	}

	return snap, nil
}

func (p *Postgres) Delete(ctx context.Context, profile string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&accountRow{}, &positionRow{}, &orderRow{}, &tradeRow{}, &fundingRow{}} {
			if err := tx.Where("profile = ?", profile).Delete(model).Error; err != nil {
				return errors.Wrap(err, "delete profile rows")
			}
		}
		return nil
	})
}

func (p *Postgres) Profiles(ctx context.Context) ([]string, error) {
	var profiles []string
	if err := p.db.WithContext(ctx).
		Model(&accountRow{}).
		Order("profile").
		Pluck("profile", &profiles).Error; err != nil {
		return nil, errors.Wrap(err, "list profiles")
	}
	return profiles, nil
}

func (p *Postgres) Close() error {
	sqlDB, err := p.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func positionRows(profile string, positions []*schema.Position) []positionRow {
	rows := make([]positionRow, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, positionRow{
			ID:                p.ID,
			Profile:           profile,
			Symbol:            p.Symbol,
			Side:              string(p.Side),
			Quantity:          p.Quantity,
			EntryPrice:        p.EntryPrice,
			Leverage:          p.Leverage,
			Margin:            p.Margin,
			StopLoss:          p.StopLoss,
			TakeProfit:        p.TakeProfit,
			Status:            string(p.Status),
			CloseReason:       string(p.CloseReason),
			RealizedPnL:       p.RealizedPnL,
			CumulativeFunding: p.CumulativeFunding,
			LastFundingAt:     p.LastFundingAt,
			OpenedAt:          p.OpenedAt,
			ClosedAt:          p.ClosedAt,
			UpdatedAt:         p.UpdatedAt,
		})
	}
	return rows
}

func orderRows(profile string, orders []*schema.Order) []orderRow {
	rows := make([]orderRow, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, orderRow{
			ID:             o.ID,
			Profile:        profile,
			Symbol:         o.Symbol,
			Side:           string(o.Side),
			Type:           string(o.Type),
			Quantity:       o.Quantity,
			LimitPrice:     o.LimitPrice,
			Leverage:       o.Leverage,
			ReduceOnly:     o.ReduceOnly,
			StopLoss:       o.StopLoss,
			TakeProfit:     o.TakeProfit,
			Status:         string(o.Status),
			ReservedMargin: o.ReservedMargin,
			FillPrice:      o.FillPrice,
			PositionID:     o.PositionID,
			Reason:         o.Reason,
			CreatedAt:      o.CreatedAt,
			UpdatedAt:      o.UpdatedAt,
			ExpiresAt:      o.ExpiresAt,
		})
	}
	return rows
}

func tradeRows(profile string, trades []*schema.TradeRecord) []tradeRow {
	rows := make([]tradeRow, 0, len(trades))
	for _, t := range trades {
		rows = append(rows, tradeRow{
			ID:         t.ID,
			Profile:    profile,
			PositionID: t.PositionID,
			OrderID:    t.OrderID,
			Symbol:     t.Symbol,
			Side:       string(t.Side),
			Action:     string(t.Action),
			Quantity:   t.Quantity,
			Price:      t.Price,
			Fee:        t.Fee,
			PnL:        t.PnL,
			Reason:     string(t.Reason),
			Timestamp:  t.Timestamp,
		})
	}
	return rows
}

func fundingRows(profile string, funding []*schema.FundingPayment) []fundingRow {
	rows := make([]fundingRow, 0, len(funding))
	for _, f := range funding {
		rows = append(rows, fundingRow{
			ID:         f.ID,
			Profile:    profile,
			PositionID: f.PositionID,
			Symbol:     f.Symbol,
			Side:       string(f.Side),
			Rate:       f.Rate,
			MarkPrice:  f.MarkPrice,
			Amount:     f.Amount,
			WindowAt:   f.WindowAt,
			SettledAt:  f.SettledAt,
		})
	}
	return rows
}
