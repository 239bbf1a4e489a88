package main

import (
	"fmt"
	"log"
	"strings"

	"github.com/mjl-/sconf"

	"github.com/dabodev/dabo/config"
	"github.com/dabodev/dabo/db"
)

func cmdExample(c *cmd) {
	c.params = "[name]"
	c.help = `List available examples, or print a specific example.`

	args := c.Parse()
	if len(args) > 1 {
		c.Usage()
	}

	var match func() string
	for _, ex := range examples {
		if len(args) == 0 {
			fmt.Println(ex.Name)
		} else if args[0] == ex.Name {
			match = ex.Get
		}
	}
	if len(args) == 0 {
		return
	}
	if match == nil {
		log.Fatalln("not found")
	}
	fmt.Print(match())
}

var examples = []struct {
	Name string
	Get  func() string
}{
	{
		"conf",
		func() string {
			const daboconf = `# Minimal dabo.conf with an sqlite connection for local development and a
# postgres connection with an obfuscated password.

DataDir: data
LogLevel: info
PackageLogLevels:
	# Log SQL statements of cursors.
	cursor: trace
PasswordKeyFile: passwordkey
ConnectionFiles:
	- connections.cnxml
Connections:
	local:
		DBType: sqlite
		# Relative to DataDir.
		Database: local.db
	accounting:
		DBType: postgres
		Host: db.example
		Database: accounting
		User: app
		# Generated with "dabo password encrypt".
		Password: secretbox:...
		KeepaliveInterval: 60
`
			var static config.Static
			err := sconf.Parse(strings.NewReader(daboconf), &static)
			xcheckf(err, "parsing dabo.conf example")
			return daboconf
		},
	},
	{
		"connections",
		func() string {
			const cnxml = `<?xml version="1.0"?>
<!-- Connection definitions, referenced from ConnectionFiles in dabo.conf.
Files are reloaded when they change. -->
<connectiondefs>
	<connection name="webshop">
		<dbtype>MySQL</dbtype>
		<host>mysql.example</host>
		<port>3306</port>
		<database>webshop</database>
		<user>shop</user>
		<password>secret</password>
	</connection>
	<connection name="legacy">
		<dbtype>Firebird</dbtype>
		<host>fb.example</host>
		<database>/srv/firebird/legacy.fdb</database>
		<user>sysdba</user>
		<password>masterkey</password>
	</connection>
</connectiondefs>
`
			_, err := db.ParseDefinitions(strings.NewReader(cnxml))
			xcheckf(err, "parsing connections example")
			return cnxml
		},
	},
}
