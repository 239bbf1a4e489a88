package db

import (
	"fmt"
	"strings"
	"time"

	"github.com/dabodev/dabo/config"
)

// ConnectInfo holds the parameters for opening a Connection.
type ConnectInfo struct {
	Name              string
	DBType            string
	Host              string
	Port              int
	Database          string
	User              string
	Password          string // Plain, or obfuscated when Crypter is set.
	Encoding          string // IANA name, empty for UTF-8.
	KeepaliveInterval time.Duration
	AutoCommit        bool
	UUIDKeys          bool
	DSN               string // If set, passed to the driver as is.

	Crypter Crypter // For deobfuscating Password, optional.
}

// ConnectInfoFromConfig returns the ConnectInfo for a connection from the
// config file.
func ConnectInfoFromConfig(name string, c config.Connection) ConnectInfo {
	return ConnectInfo{
		Name:              name,
		DBType:            strings.ToLower(c.DBType),
		Host:              c.Host,
		Port:              c.Port,
		Database:          c.Database,
		User:              c.User,
		Password:          c.Password,
		Encoding:          c.Encoding,
		KeepaliveInterval: time.Duration(c.KeepaliveInterval) * time.Second,
		AutoCommit:        c.AutoCommit,
		UUIDKeys:          c.UUIDKeys,
		DSN:               c.DSN,
	}
}

// PlainPassword returns the password, decrypted if it is obfuscated.
func (ci ConnectInfo) PlainPassword() (string, error) {
	if !IsObfuscated(ci.Password) {
		return ci.Password, nil
	}
	if ci.Crypter == nil {
		return "", fmt.Errorf("connection %q: password is obfuscated but no key is configured", ci.Name)
	}
	return ci.Crypter.Decrypt(ci.Password)
}

// Address returns host:port, with the default port of the backend if none is
// configured.
func (ci ConnectInfo) Address(defaultPort int) string {
	host := ci.Host
	if host == "" {
		host = "localhost"
	}
	port := ci.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

func (ci ConnectInfo) String() string {
	if ci.DSN != "" {
		return fmt.Sprintf("%s (%s, dsn)", ci.Name, ci.DBType)
	}
	if ci.DBType == "sqlite" {
		return fmt.Sprintf("%s (sqlite, %s)", ci.Name, ci.Database)
	}
	return fmt.Sprintf("%s (%s, %s@%s/%s)", ci.Name, ci.DBType, ci.User, ci.Address(0), ci.Database)
}
