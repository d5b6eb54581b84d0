package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

// CSVJournal appends orders and fills to two CSV files. Equity
// snapshots share the orders file, tagged by a record type column.
type CSVJournal struct {
	mu     sync.Mutex
	orders *os.File
	fills  *os.File
	ow     *csv.Writer
	fw     *csv.Writer
}

func NewCSV(ordersPath, fillsPath string) (*CSVJournal, error) {
	of, err := os.OpenFile(ordersPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open orders file: %w", err)
	}
	ff, err := os.OpenFile(fillsPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		of.Close()
		return nil, fmt.Errorf("open fills file: %w", err)
	}

	j := &CSVJournal{
		orders: of,
		fills:  ff,
		ow:     csv.NewWriter(of),
		fw:     csv.NewWriter(ff),
	}

	// Write headers only on fresh files.
	if st, err := of.Stat(); err == nil && st.Size() == 0 {
		j.ow.Write([]string{"type", "id", "broker_id", "symbol", "side", "quantity", "order_type", "limit_price", "status", "reason", "time"})
		j.ow.Flush()
	}
	if st, err := ff.Stat(); err == nil && st.Size() == 0 {
		j.fw.Write([]string{"order_id", "symbol", "quantity", "price", "time"})
		j.fw.Flush()
	}
	return j, nil
}

func (j *CSVJournal) RecordOrder(o OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ow.Write([]string{
		"order", o.ID, o.BrokerID, o.Symbol, o.Side,
		strconv.Itoa(o.Quantity), o.Type,
		strconv.FormatFloat(o.LimitPrice, 'f', -1, 64),
		o.Status, o.Reason, o.Time.Format(time.RFC3339),
	})
	j.ow.Flush()
	return j.ow.Error()
}

func (j *CSVJournal) RecordFill(f FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.fw.Write([]string{
		f.OrderID, f.Symbol,
		strconv.Itoa(f.Quantity),
		strconv.FormatFloat(f.Price, 'f', -1, 64),
		f.Time.Format(time.RFC3339),
	})
	j.fw.Flush()
	return j.fw.Error()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ow.Write([]string{
		"equity", "", "", "", "",
		strconv.Itoa(e.Positions), "",
		strconv.FormatFloat(e.Exposure, 'f', 2, 64),
		strconv.FormatFloat(e.Unrealized, 'f', 2, 64),
		strconv.FormatFloat(e.Realized, 'f', 2, 64),
		e.Time.Format(time.RFC3339),
	})
	j.ow.Flush()
	return j.ow.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.ow.Flush()
	j.fw.Flush()
	if err := j.orders.Close(); err != nil {
		j.fills.Close()
		return err
	}
	return j.fills.Close()
}
