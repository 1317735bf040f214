package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/julianstephens/milkrun/internal/models"
	"github.com/julianstephens/milkrun/internal/status"
)

func anchor(year int, month time.Month) time.Time {
	return time.Date(year, month, 15, 0, 0, 0, 0, time.UTC)
}

func TestBuild_GridShape(t *testing.T) {
	for year := 2023; year <= 2025; year++ {
		for month := time.January; month <= time.December; month++ {
			cells := Build(anchor(year, month), nil, Options{})
			require.Zero(t, len(cells)%7, "%d-%02d grid length %d", year, month, len(cells))
			assert.Equal(t, time.Sunday, cells[0].Weekday)
			assert.Equal(t, time.Saturday, cells[len(cells)-1].Weekday)

			first, ok := Find(cells, time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).Format("2006-01-02"))
			require.True(t, ok)
			assert.True(t, first.IsCurrentMonth)

			lastDay := time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC)
			last, ok := Find(cells, lastDay.Format("2006-01-02"))
			require.True(t, ok)
			assert.True(t, last.IsCurrentMonth)
		}
	}
}

func TestBuild_LeadingAndTrailingDays(t *testing.T) {
	// June 2024 starts on a Saturday and ends on a Sunday.
	cells := Build(anchor(2024, time.June), nil, Options{})
	require.Len(t, cells, 42)

	assert.Equal(t, "2024-05-26", cells[0].Date)
	assert.False(t, cells[0].IsCurrentMonth)
	assert.Equal(t, "2024-06-01", cells[6].Date)
	assert.True(t, cells[6].IsCurrentMonth)
	assert.Equal(t, "2024-07-06", cells[41].Date)
	assert.False(t, cells[41].IsCurrentMonth)
}

func TestBuild_FebruaryFitsFourWeeks(t *testing.T) {
	// February 2015 starts on a Sunday and has 28 days.
	cells := Build(anchor(2015, time.February), nil, Options{})
	assert.Len(t, cells, 28)
	for _, c := range cells {
		assert.True(t, c.IsCurrentMonth, c.Date)
	}
}

func TestBuild_DateMatchingIgnoresTimeSuffix(t *testing.T) {
	deliveries := []models.Delivery{
		{ID: "d1", Date: "2024-05-01T00:00:00.000Z", Status: models.DeliveryScheduled},
		{ID: "d2", Date: "2024-05-02", Status: models.DeliveryDelivered},
	}
	cells := Build(anchor(2024, time.May), deliveries, Options{})

	c, ok := Find(cells, "2024-05-01")
	require.True(t, ok)
	require.NotNil(t, c.Delivery)
	assert.Equal(t, "d1", c.Delivery.ID)
	assert.Equal(t, status.Upcoming, c.Visual)

	c, ok = Find(cells, "2024-05-02T18:30:00+05:30")
	require.True(t, ok)
	assert.Equal(t, status.Delivered, c.Visual)
}

func TestBuild_EmptyDaysAreInert(t *testing.T) {
	cells := Build(anchor(2024, time.May), nil, Options{Selecting: true, Today: "2024-05-01"})
	for _, c := range cells {
		assert.Equal(t, status.None, c.Visual)
		assert.False(t, c.Clickable, c.Date)
		assert.False(t, c.Selectable, c.Date)
		assert.Nil(t, c.Delivery)
	}
}

func TestBuild_OutOfMonthCellsWithDeliveryStayInteractive(t *testing.T) {
	deliveries := []models.Delivery{
		{ID: "lead", Date: "2024-05-26", Status: models.DeliveryScheduled},
	}
	cells := Build(anchor(2024, time.June), deliveries, Options{Selecting: true, Today: "2024-05-20"})

	c, ok := Find(cells, "2024-05-26")
	require.True(t, ok)
	assert.False(t, c.IsCurrentMonth)
	assert.True(t, c.Clickable)
	assert.True(t, c.Selectable)

	c, _ = Find(cells, "2024-05-27")
	assert.False(t, c.Clickable)
}

func TestBuild_Selection(t *testing.T) {
	deliveries := []models.Delivery{
		{Date: "2024-06-09", Status: models.DeliveryScheduled},
		{Date: "2024-06-10", Status: models.DeliveryReaching},
		{Date: "2024-06-11", Status: models.DeliveryDelivered},
		{Date: "2024-06-12", Status: models.DeliveryConcession},
		{Date: "2024-06-13", Status: models.DeliveryAwaitingCustomer},
	}
	opts := Options{Selecting: true, Today: "2024-06-10", Selected: []string{"2024-06-13T00:00:00Z"}}
	cells := Build(anchor(2024, time.June), deliveries, opts)

	tests := []struct {
		date       string
		selectable bool
	}{
		{"2024-06-09", false}, // past
		{"2024-06-10", true},  // today counts
		{"2024-06-11", false}, // terminal
		{"2024-06-12", false}, // compensated
		{"2024-06-13", true},
	}
	for _, tt := range tests {
		c, ok := Find(cells, tt.date)
		require.True(t, ok)
		assert.Equal(t, tt.selectable, c.Selectable, tt.date)
	}

	c, _ := Find(cells, "2024-06-13")
	assert.True(t, c.Selected)

	c, _ = Find(cells, "2024-06-10")
	assert.True(t, c.IsToday)

	// Outside selection mode nothing is selectable.
	cells = Build(anchor(2024, time.June), deliveries, Options{Today: "2024-06-10"})
	for _, c := range cells {
		assert.False(t, c.Selectable)
	}
}

func TestBuild_ProductFilter(t *testing.T) {
	deliveries := []models.Delivery{
		{Date: "2024-06-10", Status: models.DeliveryScheduled, Products: []models.DeliveryProduct{{ProductID: "milk", Name: "Milk"}}},
		{Date: "2024-06-11", Status: models.DeliveryScheduled, Products: []models.DeliveryProduct{{ProductID: "curd", Name: "Curd"}}},
	}
	cells := Build(anchor(2024, time.June), deliveries, Options{Filter: status.Filter{Product: "MILK"}})

	c, _ := Find(cells, "2024-06-10")
	assert.Equal(t, status.Upcoming, c.Visual)
	c, _ = Find(cells, "2024-06-11")
	assert.Equal(t, status.None, c.Visual)
	assert.False(t, c.Clickable)
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	deliveries := []models.Delivery{{Date: "2024-06-10", Status: models.DeliveryScheduled}}
	cells := Build(anchor(2024, time.June), deliveries, Options{})

	c, _ := Find(cells, "2024-06-10")
	c.Delivery.Status = models.DeliveryCanceled
	assert.Equal(t, models.DeliveryScheduled, deliveries[0].Status)
}

func TestWeeks(t *testing.T) {
	cells := Build(anchor(2024, time.June), nil, Options{})
	rows := Weeks(cells)
	require.Len(t, rows, 6)
	for _, row := range rows {
		assert.Len(t, row, 7)
	}
}

func TestBuilder_Memoizes(t *testing.T) {
	b := NewBuilder()
	deliveries := []models.Delivery{{Date: "2024-06-10", Status: models.DeliveryScheduled}}
	opts := Options{Today: "2024-06-01"}

	first := b.Build(anchor(2024, time.June), deliveries, opts)
	second := b.Build(anchor(2024, time.June), deliveries, opts)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.hits)

	opts.Selecting = true
	third := b.Build(anchor(2024, time.June), deliveries, opts)
	assert.Equal(t, 1, b.hits)
	c, _ := Find(third, "2024-06-10")
	assert.True(t, c.Selectable)

	deliveries[0].Status = models.DeliveryDelivered
	fourth := b.Build(anchor(2024, time.June), deliveries, opts)
	c, _ = Find(fourth, "2024-06-10")
	assert.Equal(t, status.Delivered, c.Visual)
}

func TestBuilder_ReturnsIndependentCells(t *testing.T) {
	b := NewBuilder()
	deliveries := []models.Delivery{{Date: "2024-06-10", Status: models.DeliveryScheduled}}
	opts := Options{Today: "2024-06-01"}

	first := b.Build(anchor(2024, time.June), deliveries, opts)
	c, ok := Find(first, "2024-06-10")
	require.True(t, ok)
	require.NotNil(t, c.Delivery)
	c.Delivery.Status = models.DeliveryCanceled

	second := b.Build(anchor(2024, time.June), deliveries, opts)
	assert.Equal(t, 1, b.hits)
	c, _ = Find(second, "2024-06-10")
	assert.Equal(t, models.DeliveryScheduled, c.Delivery.Status)
}
