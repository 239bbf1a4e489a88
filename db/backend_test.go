package db

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/dabodev/dabo/sqlbuilder"
)

func xbackend(t *testing.T, name string) Backend {
	t.Helper()
	b, err := NewBackend(name)
	tcheck(t, err, "new backend")
	return b
}

func TestBackends(t *testing.T) {
	tcompare(t, BackendNames(), []string{"firebird", "mssql", "mysql", "postgres", "sqlite"})
	tcompare(t, xbackend(t, "PostgreSQL").Name(), "postgres")
	tcompare(t, xbackend(t, "sqlite3").Name(), "sqlite")

	if _, err := NewBackend("odbc"); !errors.Is(err, ErrFeatureNotImplemented) {
		t.Fatalf("odbc, got %v, expected ErrFeatureNotImplemented", err)
	}
	if _, err := NewBackend("nosuchdb"); !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("got %v, expected ErrUnknownBackend", err)
	}

	tcompare(t, xbackend(t, "mssql").LimitPlacement(), sqlbuilder.LimitTop)
	tcompare(t, xbackend(t, "firebird").LimitPlacement(), sqlbuilder.LimitFirst)
	tcompare(t, xbackend(t, "mysql").LimitPlacement(), sqlbuilder.LimitTrailing)
	tcompare(t, xbackend(t, "postgres").Placeholder(2), "$2")
	tcompare(t, xbackend(t, "mssql").Placeholder(2), "@p2")
	tcompare(t, xbackend(t, "sqlite").Placeholder(2), "?")
	tcompare(t, xbackend(t, "firebird").KeepaliveQuery(), "select 1 from rdb$database")

	// MSSQL reads generated keys from the insert itself.
	tcompare(t, xbackend(t, "mssql").InsertKeySQL("person", []string{"name", "age"}, "id"), "insert into [person] ([name], [age]) output inserted.[id] values (@p1, @p2)")
	tcompare(t, xbackend(t, "sqlite").InsertKeySQL("person", []string{"name"}, "id"), "")
	if _, err := xbackend(t, "mssql").LastInsertID(ctxbg, nil, nil, "person", "id"); !errors.Is(err, ErrFeatureNotSupported) {
		t.Fatalf("mssql last insert id, got %v, expected ErrFeatureNotSupported", err)
	}
}

func TestQuoteIdentifier(t *testing.T) {
	test := func(backend, name, exp string) {
		t.Helper()
		b := xbackend(t, backend)
		s := b.QuoteIdentifier(name)
		tcompare(t, s, exp)
		// Idempotent.
		tcompare(t, b.QuoteIdentifier(s), exp)
	}
	test("sqlite", "person.name", `"person"."name"`)
	test("sqlite", "t.*", `"t".*`)
	test("mysql", "name", "`name`")
	test("mssql", "dbo.person", "[dbo].[person]")
	test("postgres", `odd"name`, `"odd""name"`)
}

func TestQuoteValue(t *testing.T) {
	day := time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC)
	test := func(backend string, v any, ft FieldType, exp string) {
		t.Helper()
		tcompare(t, xbackend(t, backend).QuoteValue(v, ft), exp)
	}
	test("sqlite", "O'Neil", FieldUnknown, `'O''Neil'`)
	test("mysql", `O'Neil\`, FieldUnknown, `'O\'Neil\\'`)
	test("mssql", "O'Neil", FieldUnknown, `N'O''Neil'`)
	test("sqlite", nil, FieldString, "NULL")
	test("sqlite", NoEscape("?"), FieldUnknown, "?")
	test("sqlite", true, FieldUnknown, "1")
	test("postgres", false, FieldUnknown, "false")
	test("sqlite", []byte{0xab, 1}, FieldUnknown, "X'ab01'")
	test("postgres", []byte{0xab}, FieldUnknown, `'\xab'::bytea`)
	test("mssql", []byte{0xab}, FieldUnknown, "0xab")
	test("sqlite", int64(-3), FieldUnknown, "-3")
	test("sqlite", "12", FieldInt, "12")
	test("sqlite", decimal.RequireFromString("1.50"), FieldUnknown, "1.5")
	test("sqlite", day, FieldUnknown, "'2024-03-04 05:06:07'")
	test("sqlite", day, FieldDate, "'2024-03-04'")
	test("mssql", day, FieldDateTime, "'2024-03-04T05:06:07'")
}

func TestFieldConvert(t *testing.T) {
	test := func(ft FieldType, v, exp any) {
		t.Helper()
		got, err := ft.Convert(v)
		tcheck(t, err, "convert")
		tcompare(t, got, exp)
	}
	test(FieldInt, "12", int64(12))
	test(FieldInt, 3.0, int64(3))
	test(FieldInt, -9.223372036854775808e18, int64(math.MinInt64))
	test(FieldInt, uint8(7), int64(7))
	test(FieldFloat, "1.5", 1.5)
	test(FieldString, int64(5), "5")
	test(FieldString, []byte("x"), "x")
	test(FieldBool, int64(1), true)
	test(FieldBool, "no", false)
	test(FieldBytes, "ab", []byte("ab"))
	test(FieldUnknown, "as is", "as is")
	test(FieldInt, nil, nil)

	d, err := FieldDecimal.Convert("1.50")
	tcheck(t, err, "convert decimal")
	if !d.(decimal.Decimal).Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("got %v, expected 1.5", d)
	}

	tm, err := FieldDate.Convert("2024-03-04 10:11:12")
	tcheck(t, err, "convert date")
	tcompare(t, tm.(time.Time).Format("2006-01-02 15:04"), "2024-03-04 00:00")

	for _, x := range []struct {
		ft FieldType
		v  any
	}{
		{FieldInt, "abc"},
		{FieldInt, 1.5},
		{FieldInt, math.Inf(1)},
		{FieldInt, math.Inf(-1)},
		{FieldInt, math.NaN()},
		{FieldInt, 1e19},
		{FieldInt, float32(-1e19)},
		{FieldInt, decimal.RequireFromString("10000000000000000000")},
		{FieldBool, "maybe"},
		{FieldDateTime, "yesterday"},
		{FieldBytes, 1},
	} {
		if _, err := x.ft.Convert(x.v); !errors.Is(err, ErrTypeMismatch) {
			t.Fatalf("convert %v to %s, got %v, expected ErrTypeMismatch", x.v, x.ft, err)
		}
	}

	tcompare(t, TypeFromDBName("varchar(20)"), FieldString)
	tcompare(t, TypeFromDBName("BIGINT UNSIGNED"), FieldInt)
	tcompare(t, TypeFromDBName("numeric(10,2)"), FieldDecimal)
	tcompare(t, TypeFromDBName("TIMESTAMP WITH TIME ZONE"), FieldDateTime)
	tcompare(t, TypeFromDBName("double precision"), FieldFloat)
	tcompare(t, xbackend(t, "mysql").FieldType("tinyint(1)"), FieldBool)
}

func TestCrypter(t *testing.T) {
	c, err := NewSecretboxCrypter([]byte("key material"))
	tcheck(t, err, "new crypter")
	s, err := c.Encrypt("hunter2")
	tcheck(t, err, "encrypt")
	tcompare(t, IsObfuscated(s), true)
	plain, err := c.Decrypt(s)
	tcheck(t, err, "decrypt")
	tcompare(t, plain, "hunter2")

	plain, err = c.Decrypt("plain")
	tcheck(t, err, "decrypt plain")
	tcompare(t, plain, "plain")

	other, err := NewSecretboxCrypter([]byte("other key"))
	tcheck(t, err, "new crypter")
	if _, err := other.Decrypt(s); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("decrypt with wrong key, got %v, expected ErrDecrypt", err)
	}

	ci := ConnectInfo{Name: "x", Password: s}
	if _, err := ci.PlainPassword(); err == nil {
		t.Fatalf("obfuscated password without crypter accepted")
	}
	ci.Crypter = c
	plain, err = ci.PlainPassword()
	tcheck(t, err, "plain password")
	tcompare(t, plain, "hunter2")
}
