package database

import (
	"fmt"
	"time"

	"github.com/gocql/gocql"
)

// CassandraDB wraps the gocql session used by the message store
type CassandraDB struct {
	Session *gocql.Session
}

// CassandraConfig holds Cassandra connection configuration
type CassandraConfig struct {
	Hosts    []string
	Keyspace string
	Username string
	Password string
	Timeout  time.Duration
}

// NewCassandraDB creates a new Cassandra session
func NewCassandraDB(config *CassandraConfig) (*CassandraDB, error) {
	cluster := gocql.NewCluster(config.Hosts...)
	cluster.Keyspace = config.Keyspace
	cluster.Consistency = gocql.Quorum
	cluster.Timeout = config.Timeout
	cluster.ConnectTimeout = config.Timeout

	if config.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: config.Username,
			Password: config.Password,
		}
	}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create Cassandra session: %w", err)
	}

	return &CassandraDB{Session: session}, nil
}

// Close closes the Cassandra session
func (db *CassandraDB) Close() {
	db.Session.Close()
}
