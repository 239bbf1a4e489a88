/*
Command dabo is the administrative tool for dabo, a framework for database
business applications.

  - Check the configuration and connection definition files.
  - Connect to configured databases, list and describe their tables.
  - Run queries through a cursor, the way an application reads data.
  - Inspect and edit the preferences database.
  - Obfuscate database passwords for use in the configuration.

# Commands

	dabo [-config dabo.conf] [-loglevel level] ...
	dabo version
	dabo config test
	dabo config describe >dabo.conf
	dabo connection list
	dabo connection ping [name ...]
	dabo connection tables name
	dabo connection describe name table
	dabo connection watch
	dabo query name sql
	dabo prefs get key
	dabo prefs set key value
	dabo prefs delete key
	dabo prefs tree [prefix]
	dabo password encrypt
	dabo example [name]
	dabo help [command ...]

Specify the configuration file through the -config flag or DABOCONF
environment variable.

# dabo version

Prints this dabo version.

	usage: dabo version

# dabo config test

Parses and validates the configuration file and connection files.

If valid, the command exits with status 0. If not valid, all errors encountered
are printed.

	usage: dabo config test

# dabo config describe

Prints an annotated empty configuration for use as dabo.conf.

This configuration file needs modifications to make it valid. For example, it
may contain unfinished list items.

	usage: dabo config describe >dabo.conf

# dabo connection list

List the configured connections.

Connections come from the config file and from the connection definition files
it references.

	usage: dabo connection list

# dabo connection ping

Connect to databases and run a trivial query.

Without names, all configured connections are checked, in parallel.

	usage: dabo connection ping [name ...]

# dabo connection tables

List the tables of the database of a connection.

	usage: dabo connection tables name
	  -system
	    	include system tables

# dabo connection describe

Print the fields of a table, with their types as dabo sees them.

	usage: dabo connection describe name table

# dabo connection watch

Watch the connection definition files and report reloads.

Runs until interrupted. Useful to check that edits of connection files are
picked up.

	usage: dabo connection watch

# dabo query

Run a select statement and print the resulting rows.

The rows are read into a cursor, as an application would.

	usage: dabo query name sql
	  -limit int
	    	maximum number of rows to print, 0 for all (default 100)

# dabo prefs get

Print the value of a preference, with its type.

	usage: dabo prefs get key

# dabo prefs set

Set a preference.

The value is parsed according to the type, see the -type flag. Values of type
list, tuple and dict are JSON with elements as pairs of type and value, as
printed by "dabo prefs get".

	usage: dabo prefs set key value
	  -type string
	    	type of value, one of: int, float, long, str, unicode, bool, list, tuple, dict, date, datetime, decimal, none (default "str")

# dabo prefs delete

Delete a preference, and with -nested all preferences below it.

	usage: dabo prefs delete key
	  -nested
	    	also delete keys below key

# dabo prefs tree

Print the tree of preference keys, optionally only below prefix.

	usage: dabo prefs tree [prefix]

# dabo password encrypt

Obfuscate a database password for use in the config file.

The password is read from standard input. The obfuscated password is encrypted
with the key from PasswordKeyFile in the config file.

	usage: dabo password encrypt

# dabo example

List available examples, or print a specific example.

	usage: dabo example [name]

# dabo help

Prints help about matching commands.

If multiple commands match, they are listed along with the first line of their help text.
If a single command matches, its usage and full help text is printed.

	usage: dabo help [command ...]
*/
package main
