package clickhouse

import (
	clickhouse_go "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/Abaso007/builderai-sub001/internal/config"
	ierr "github.com/Abaso007/builderai-sub001/internal/errors"
)

// ClickHouseStore holds the native protocol connection to the analytics
// backend
type ClickHouseStore struct {
	conn driver.Conn
}

func NewClickHouseStore(config *config.Configuration) (*ClickHouseStore, error) {
	conn, err := clickhouse_go.Open(config.ClickHouse.GetClientOptions())
	if err != nil {
		return nil, ierr.WithError(err).
			WithHint("Failed to init clickhouse client").
			Mark(ierr.ErrSystem)
	}
	return &ClickHouseStore{conn: conn}, nil
}

func (s *ClickHouseStore) GetConn() driver.Conn {
	return s.conn
}

func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}
