package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/utils"
)

// Dialect captures what differs between the SQL backends.
type Dialect struct {
	Name string
	// Numbered switches "?" placeholders to "$1, $2, ...".
	Numbered bool
	// IsUniqueViolation recognises the driver's unique-constraint error.
	IsUniqueViolation func(error) bool
}

// SQLStore implements the data operations of Provider over database/sql.
// Backends embed it and supply the connection and the lifecycle methods.
type SQLStore struct {
	DB      *sql.DB
	Dialect Dialect
}

func (s *SQLStore) q(query string) string {
	if !s.Dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) conflict(err error) error {
	if err != nil && s.Dialect.IsUniqueViolation != nil && s.Dialect.IsUniqueViolation(err) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}

func (s *SQLStore) GetSettings() (models.Settings, error) {
	rows, err := s.DB.Query("SELECT key, value FROM settings")
	if err != nil {
		return models.Settings{}, err
	}
	defer rows.Close()

	data := map[string]string{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return models.Settings{}, err
		}
		data[key] = value
	}
	if err := rows.Err(); err != nil {
		return models.Settings{}, err
	}
	if len(data) == 0 {
		return models.Settings{}, fmt.Errorf("settings %w", ErrNotFound)
	}
	return models.MapToSettings(data)
}

func (s *SQLStore) SaveSettings(settings models.Settings) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(s.q(`
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for key, value := range models.SettingsToMap(settings) {
		if _, err := stmt.Exec(key, value); err != nil {
			return fmt.Errorf("saving setting %s: %w", key, err)
		}
	}
	return tx.Commit()
}

const subscriptionColumns = "id, subscription_id, customer_id, status, start_date, end_date, slot, payment_method, created_at"

func (s *SQLStore) AddSubscription(sub models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = tx.Exec(s.q(`INSERT INTO subscriptions (`+subscriptionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		sub.ID, sub.SubscriptionID, sub.CustomerID, sub.Status, sub.StartDate, sub.EndDate,
		sub.Slot, sub.PaymentMethod, createdAt.Format(time.RFC3339))
	if err != nil {
		return s.conflict(err)
	}
	if err := s.writeProducts(tx, sub); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) writeProducts(tx *sql.Tx, sub models.Subscription) error {
	if _, err := tx.Exec(s.q("DELETE FROM subscription_products WHERE subscription_id = ?"), sub.ID); err != nil {
		return err
	}
	stmt, err := tx.Prepare(s.q(`
		INSERT INTO subscription_products
			(subscription_id, product_id, name, quantity_value, quantity_unit, delivery_frequency, max_deliveries, delivered_count, position)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, p := range sub.Products {
		if err := p.Validate(); err != nil {
			return err
		}
		if _, err := stmt.Exec(sub.ID, p.ProductID, p.Name, p.QuantityValue, p.QuantityUnit,
			p.DeliveryFrequency, p.MaxDeliveries, p.DeliveredCount, i); err != nil {
			return s.conflict(err)
		}
	}
	return nil
}

func scanSubscription(row interface{ Scan(...interface{}) error }) (models.Subscription, error) {
	var sub models.Subscription
	var createdAt string
	err := row.Scan(&sub.ID, &sub.SubscriptionID, &sub.CustomerID, &sub.Status, &sub.StartDate,
		&sub.EndDate, &sub.Slot, &sub.PaymentMethod, &createdAt)
	if err != nil {
		return models.Subscription{}, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		sub.CreatedAt = t
	}
	return sub, nil
}

func (s *SQLStore) loadProducts(sub *models.Subscription) error {
	rows, err := s.DB.Query(s.q(`
		SELECT product_id, name, quantity_value, quantity_unit, delivery_frequency, max_deliveries, delivered_count
		FROM subscription_products WHERE subscription_id = ? ORDER BY position
	`), sub.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	sub.Products = nil
	for rows.Next() {
		var p models.SubscriptionProduct
		if err := rows.Scan(&p.ProductID, &p.Name, &p.QuantityValue, &p.QuantityUnit,
			&p.DeliveryFrequency, &p.MaxDeliveries, &p.DeliveredCount); err != nil {
			return err
		}
		sub.Products = append(sub.Products, p)
	}
	return rows.Err()
}

func (s *SQLStore) GetSubscription(id string) (models.Subscription, error) {
	row := s.DB.QueryRow(s.q("SELECT "+subscriptionColumns+" FROM subscriptions WHERE id = ? OR subscription_id = ?"), id, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("subscription %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.Subscription{}, err
	}
	if err := s.loadProducts(&sub); err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}

func (s *SQLStore) GetActiveSubscription(customerID string) (models.Subscription, error) {
	row := s.DB.QueryRow(s.q("SELECT "+subscriptionColumns+` FROM subscriptions
		WHERE customer_id = ? AND status IN (?, ?)
		ORDER BY start_date DESC LIMIT 1`),
		customerID, models.SubscriptionActive, models.SubscriptionExpiring)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Subscription{}, fmt.Errorf("active subscription for %s: %w", customerID, ErrNotFound)
	}
	if err != nil {
		return models.Subscription{}, err
	}
	if err := s.loadProducts(&sub); err != nil {
		return models.Subscription{}, err
	}
	return sub, nil
}

func (s *SQLStore) ListSubscriptions(customerID string) ([]models.Subscription, error) {
	query := "SELECT " + subscriptionColumns + " FROM subscriptions"
	var args []interface{}
	if customerID != "" {
		query += " WHERE customer_id = ?"
		args = append(args, customerID)
	}
	query += " ORDER BY start_date, id"

	rows, err := s.DB.Query(s.q(query), args...)
	if err != nil {
		return nil, err
	}
	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		subs = append(subs, sub)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range subs {
		if err := s.loadProducts(&subs[i]); err != nil {
			return nil, err
		}
	}
	return subs, nil
}

func (s *SQLStore) UpdateSubscription(sub models.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.q(`UPDATE subscriptions
		SET status = ?, start_date = ?, end_date = ?, slot = ?, payment_method = ?
		WHERE id = ?`),
		sub.Status, sub.StartDate, sub.EndDate, sub.Slot, sub.PaymentMethod, sub.ID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s: %w", sub.ID, ErrNotFound)
	}
	if err := s.writeProducts(tx, sub); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) ChangeStatus(c StatusChange) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.q("UPDATE subscriptions SET status = ? WHERE id = ?"), c.Status, c.SubscriptionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s: %w", c.SubscriptionID, ErrNotFound)
	}
	for date, status := range c.Deliveries {
		res, err := tx.Exec(s.q("UPDATE deliveries SET status = ? WHERE subscription_id = ? AND date = ?"),
			status, c.SubscriptionID, utils.DateKey(date))
		if err != nil {
			return fmt.Errorf("updating delivery on %s: %w", date, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delivery on %s: %w", utils.DateKey(date), ErrNotFound)
		}
	}
	return tx.Commit()
}

const deliveryColumns = "id, subscription_id, date, slot, status, products, concession, concession_details"

func (s *SQLStore) AddDeliveries(subscriptionID string, deliveries []models.Delivery) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, d := range deliveries {
		d.SubscriptionID = subscriptionID
		if err := s.insertDelivery(tx, d); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) insertDelivery(tx *sql.Tx, d models.Delivery) error {
	products, details, err := encodeDelivery(d)
	if err != nil {
		return err
	}
	_, err = tx.Exec(s.q(`INSERT INTO deliveries (`+deliveryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, d.SubscriptionID, utils.DateKey(d.Date), d.Slot, d.Status, products, d.Concession, details)
	if err != nil {
		return fmt.Errorf("delivery on %s: %w", utils.DateKey(d.Date), s.conflict(err))
	}
	return nil
}

func encodeDelivery(d models.Delivery) (string, sql.NullString, error) {
	products := d.Products
	if products == nil {
		products = []models.DeliveryProduct{}
	}
	pj, err := json.Marshal(products)
	if err != nil {
		return "", sql.NullString{}, fmt.Errorf("encoding products: %w", err)
	}
	var details sql.NullString
	if d.ConcessionDetails != nil {
		dj, err := json.Marshal(d.ConcessionDetails)
		if err != nil {
			return "", sql.NullString{}, fmt.Errorf("encoding concession details: %w", err)
		}
		details = sql.NullString{String: string(dj), Valid: true}
	}
	return string(pj), details, nil
}

func scanDelivery(row interface{ Scan(...interface{}) error }) (models.Delivery, error) {
	var d models.Delivery
	var products string
	var details sql.NullString
	if err := row.Scan(&d.ID, &d.SubscriptionID, &d.Date, &d.Slot, &d.Status, &products, &d.Concession, &details); err != nil {
		return models.Delivery{}, err
	}
	if products != "" {
		if err := json.Unmarshal([]byte(products), &d.Products); err != nil {
			return models.Delivery{}, fmt.Errorf("decoding products of %s: %w", d.ID, err)
		}
	}
	if details.Valid && details.String != "" {
		var cd models.ConcessionDetails
		if err := json.Unmarshal([]byte(details.String), &cd); err != nil {
			return models.Delivery{}, fmt.Errorf("decoding concession details of %s: %w", d.ID, err)
		}
		d.ConcessionDetails = &cd
	}
	return d, nil
}

func (s *SQLStore) GetDelivery(subscriptionID, date string) (models.Delivery, error) {
	row := s.DB.QueryRow(s.q("SELECT "+deliveryColumns+" FROM deliveries WHERE subscription_id = ? AND date = ?"),
		subscriptionID, utils.DateKey(date))
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Delivery{}, fmt.Errorf("delivery on %s: %w", utils.DateKey(date), ErrNotFound)
	}
	return d, err
}

func (s *SQLStore) GetDeliveries(subscriptionID, from, to string) ([]models.Delivery, error) {
	query := "SELECT " + deliveryColumns + " FROM deliveries WHERE subscription_id = ?"
	args := []interface{}{subscriptionID}
	if from != "" {
		query += " AND date >= ?"
		args = append(args, utils.DateKey(from))
	}
	if to != "" {
		query += " AND date <= ?"
		args = append(args, utils.DateKey(to))
	}
	query += " ORDER BY date"

	rows, err := s.DB.Query(s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := []models.Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *SQLStore) UpdateDelivery(d models.Delivery) error {
	products, details, err := encodeDelivery(d)
	if err != nil {
		return err
	}
	res, err := s.DB.Exec(s.q(`UPDATE deliveries
		SET date = ?, slot = ?, status = ?, products = ?, concession = ?, concession_details = ?
		WHERE id = ?`),
		utils.DateKey(d.Date), d.Slot, d.Status, products, d.Concession, details, d.ID)
	if err != nil {
		return s.conflict(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

func (s *SQLStore) MoveDeliveries(subscriptionID string, moves []Move) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Park every moving row on a placeholder date first so a block can shift
	// onto its own dates without tripping the unique index mid-way.
	for _, m := range moves {
		res, err := tx.Exec(s.q("UPDATE deliveries SET date = ? WHERE subscription_id = ? AND date = ?"),
			"moving:"+utils.DateKey(m.From), subscriptionID, utils.DateKey(m.From))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("delivery on %s: %w", utils.DateKey(m.From), ErrNotFound)
		}
	}
	for _, m := range moves {
		_, err := tx.Exec(s.q(`UPDATE deliveries
			SET date = ?, slot = ?, status = COALESCE(NULLIF(?, ''), status)
			WHERE subscription_id = ? AND date = ?`),
			utils.DateKey(m.To), m.Slot, m.Status, subscriptionID, "moving:"+utils.DateKey(m.From))
		if err != nil {
			return fmt.Errorf("moving %s to %s: %w", m.From, m.To, s.conflict(err))
		}
	}
	return tx.Commit()
}

func (s *SQLStore) MarkDelivered(subscriptionID, date string) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRow(s.q("SELECT "+deliveryColumns+" FROM deliveries WHERE subscription_id = ? AND date = ?"),
		subscriptionID, utils.DateKey(date))
	d, err := scanDelivery(row)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("delivery on %s: %w", utils.DateKey(date), ErrNotFound)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(s.q("UPDATE deliveries SET status = ? WHERE id = ?"), models.DeliveryDelivered, d.ID); err != nil {
		return err
	}
	for _, p := range d.Products {
		if p.DeliveryStatus == models.DeliveryCanceled {
			continue
		}
		if _, err := tx.Exec(s.q(`UPDATE subscription_products
			SET delivered_count = delivered_count + 1
			WHERE subscription_id = ? AND product_id = ? AND delivered_count < max_deliveries`),
			subscriptionID, p.ProductID); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLStore) Compensate(c Compensation) error {
	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	details := models.ConcessionDetails{
		OriginalDate:         utils.DateKey(c.Date),
		RescheduledTo:        utils.DateKey(c.Replacement.Date),
		ExtendedSubscription: c.NewEndDate != "",
	}
	dj, err := json.Marshal(details)
	if err != nil {
		return err
	}
	res, err := tx.Exec(s.q(`UPDATE deliveries SET status = ?, concession = ?, concession_details = ?
		WHERE subscription_id = ? AND date = ?`),
		models.DeliveryConcession, true, string(dj), c.SubscriptionID, utils.DateKey(c.Date))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delivery on %s: %w", utils.DateKey(c.Date), ErrNotFound)
	}

	replacement := c.Replacement
	replacement.SubscriptionID = c.SubscriptionID
	if err := s.insertDelivery(tx, replacement); err != nil {
		return err
	}

	if c.NewEndDate != "" {
		if _, err := tx.Exec(s.q("UPDATE subscriptions SET end_date = ? WHERE id = ?"),
			utils.DateKey(c.NewEndDate), c.SubscriptionID); err != nil {
			return err
		}
	}
	return tx.Commit()
}
