package config

// Static is a parsed form of the dabo.conf configuration file, before
// converting it into a dabo.Config after additional processing.
type Static struct {
	DataDir          string                `sconf-doc:"NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be on their own line, they don't end a line. Do not escape or quote strings. Details: https://pkg.go.dev/github.com/mjl-/sconf.\n\n\nDirectory where data is stored, e.g. the preferences database. If this is a relative path, it is relative to the directory of dabo.conf."`
	LogLevel         string                `sconf-doc:"Default log level, one of: error, info, debug, trace, traceauth, tracedata. Trace logs SQL statements, and tracedata also their parameters, which can contain personal data."`
	PackageLogLevels map[string]string     `sconf:"optional" sconf-doc:"Overrides of log level per package (e.g. db, cursor, bizobj, prefs)."`
	PreferencesFile  string                `sconf:"optional" sconf-doc:"File for the preferences database, relative to DataDir. Default: prefs.db."`
	PasswordKeyFile  string                `sconf:"optional" sconf-doc:"File with the secret used to decrypt obfuscated connection passwords, relative to the config directory. If absent, passwords starting with 'secretbox:' cannot be used."`
	ConnectionFiles  []string              `sconf:"optional" sconf-doc:"XML connection definition files, with <connection name=\"...\"> elements. Relative to the config directory. Connections from these files are reloaded when the files change."`
	Connections      map[string]Connection `sconf:"optional" sconf-doc:"Named database connections. The key is the name used by applications and the dabo command."`
}

// Connection holds what is needed to connect to a database.
type Connection struct {
	DBType            string `sconf-doc:"Type of database, one of: sqlite, mysql, postgres, mssql, firebird."`
	Database          string `sconf:"optional" sconf-doc:"Name of the database. For sqlite the path of the database file, relative to DataDir. Required unless DSN is set."`
	Host              string `sconf:"optional" sconf-doc:"Host name or IP address of the database server."`
	Port              int    `sconf:"optional" sconf-doc:"TCP port of the database server. Default depends on DBType."`
	User              string `sconf:"optional"`
	Password          string `sconf:"optional" sconf-doc:"Password, either plain or obfuscated with 'dabo password encrypt' (starting with 'secretbox:')."`
	Encoding          string `sconf:"optional" sconf-doc:"Character encoding of text in the database, as IANA name, e.g. latin1. Default: utf-8."`
	KeepaliveInterval int    `sconf:"optional" sconf-doc:"If non-zero, seconds of idle time after which a 'select 1' is sent to keep the connection open."`
	AutoCommit        bool   `sconf:"optional" sconf-doc:"Do not use transactions, every statement is committed immediately."`
	UUIDKeys          bool   `sconf:"optional" sconf-doc:"Generate UUID primary keys before inserting instead of letting the database assign keys."`
	DSN               string `sconf:"optional" sconf-doc:"Data source name passed to the driver as is, overriding Host, Port, User, Password and Database."`
}
