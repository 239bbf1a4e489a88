/*
Package config holds the configuration file definitions.

Dabo uses a single config file, dabo.conf. Connection definitions can
additionally be kept in XML files listed in ConnectionFiles, which are
reloaded when they change.

Below is an "empty" config file, generated from the config file definitions
in the source code, along with comments explaining the fields. Fields named
"x" are placeholders for user-chosen map keys.

# sconf

The config file is in "sconf" format. Properties of sconf files:

  - Indentation with tabs only.
  - "#" as first non-whitespace character makes the line a comment. Lines with a
    value cannot also have a comment.
  - Values don't have syntax indicating their type. For example, strings are
    not quoted/escaped and can never span multiple lines.
  - Fields that are optional can be left out completely. But the value of an
    optional field may itself have required fields.

See https://pkg.go.dev/github.com/mjl-/sconf for details.

# dabo.conf

	# NOTE: This config file is in 'sconf' format. Indent with tabs. Comments must be
	# on their own line, they don't end a line. Do not escape or quote strings.
	# Details: https://pkg.go.dev/github.com/mjl-/sconf.


	# Directory where data is stored, e.g. the preferences database. If this is a
	# relative path, it is relative to the directory of dabo.conf.
	DataDir:

	# Default log level, one of: error, info, debug, trace, traceauth, tracedata.
	# Trace logs SQL statements, and tracedata also their parameters, which can
	# contain personal data.
	LogLevel:

	# Overrides of log level per package (e.g. db, cursor, bizobj, prefs).
	# (optional)
	PackageLogLevels:
		x:

	# File for the preferences database, relative to DataDir. Default: prefs.db.
	# (optional)
	PreferencesFile:

	# File with the secret used to decrypt obfuscated connection passwords,
	# relative to the config directory. If absent, passwords starting with
	# 'secretbox:' cannot be used. (optional)
	PasswordKeyFile:

	# XML connection definition files, with <connection name="..."> elements.
	# Relative to the config directory. Connections from these files are reloaded
	# when the files change. (optional)
	ConnectionFiles:
		-

	# Named database connections. The key is the name used by applications and the
	# dabo command. (optional)
	Connections:
		x:

			# Type of database, one of: sqlite, mysql, postgres, mssql, firebird.
			DBType:

			# Name of the database. For sqlite the path of the database file, relative
			# to DataDir. Required unless DSN is set. (optional)
			Database:

			# Host name or IP address of the database server. (optional)
			Host:

			# TCP port of the database server. Default depends on DBType. (optional)
			Port: 0

			# (optional)
			User:

			# Password, either plain or obfuscated with 'dabo password encrypt'
			# (starting with 'secretbox:'). (optional)
			Password:

			# Character encoding of text in the database, as IANA name, e.g. latin1.
			# Default: utf-8. (optional)
			Encoding:

			# If non-zero, seconds of idle time after which a 'select 1' is sent to keep
			# the connection open. (optional)
			KeepaliveInterval: 0

			# Do not use transactions, every statement is committed immediately.
			# (optional)
			AutoCommit: false

			# Generate UUID primary keys before inserting instead of letting the
			# database assign keys. (optional)
			UUIDKeys: false

			# Data source name passed to the driver as is, overriding Host, Port, User,
			# Password and Database. (optional)
			DSN:
*/
package config
