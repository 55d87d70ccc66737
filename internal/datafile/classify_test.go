package datafile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		sql     string
		kind    Kind
		keyword string
	}{
		{"  SeLeCt 1", KindRead, "select"},
		{"select * from t", KindRead, "select"},
		{"insert into t values (1)", KindWrite, "insert"},
		{"UPDATE t SET a = 1", KindWrite, "update"},
		{"delete from t", KindWrite, "delete"},
		{"CREATE TABLE t (id INTEGER)", KindWrite, "create"},
		{"-- list users\nSELECT * FROM users", KindRead, "select"},
		{"/* header */ /* another */ select 1", KindRead, "select"},
		{"/* select */ delete from t", KindWrite, "delete"},
		{"(select 1) union select 2", KindRead, "select"},
		{"VALUES (1, 2)", KindRead, "values"},
		{"EXPLAIN QUERY PLAN SELECT * FROM t", KindRead, "explain"},
		{"PRAGMA table_info(users)", KindRead, "pragma"},
		{"PRAGMA user_version = 3", KindWrite, "pragma"},
		{"WITH recent AS (SELECT * FROM t) SELECT * FROM recent", KindRead, "with"},
		{"WITH ids AS (SELECT id FROM t) DELETE FROM t WHERE id IN ids", KindWrite, "with"},
		{"with recursive c(x) as (select 1 union all select x+1 from c where x < 3) select x from c", KindRead, "with"},
		{"select 1; delete from t", KindWrite, "select"},
		{"select 1;", KindRead, "select"},
		{"select ';' as semi", KindRead, "select"},
		{"select 'a'';drop table t' as s", KindRead, "select"},
	}

	for _, tc := range cases {
		got := Classify(tc.sql)
		require.Equal(t, tc.kind, got.Kind, tc.sql)
		require.Equal(t, tc.keyword, got.Keyword, tc.sql)
	}
}

func TestClassifyStatementCount(t *testing.T) {
	require.Equal(t, 0, Classify("").Statements)
	require.Equal(t, 0, Classify(" -- only a comment").Statements)
	require.Equal(t, 1, Classify("select 1;;").Statements)
	require.Equal(t, 2, Classify("insert into t values (1); insert into t values (2)").Statements)
	require.Equal(t, KindWrite, Classify("").Kind)
}

func TestClassifyDropsEmptyTails(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"SELECT name FROM users;;", "SELECT name FROM users"},
		{"SELECT name FROM users; -- note", "SELECT name FROM users"},
		{"SELECT name FROM users; /* c */", "SELECT name FROM users"},
		{"-- lead\nSELECT 1 -- trailing", "SELECT 1"},
		{"select 'a;b' /* keep */ from t", "select 'a;b' /* keep */ from t"},
		{
			"insert into t values (1);; insert into t values (2); -- done",
			"insert into t values (1);\ninsert into t values (2)",
		},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Classify(tc.in).SQL, tc.in)
	}

	for _, in := range []string{
		"SELECT name FROM users;;",
		"SELECT name FROM users; -- note",
		"SELECT name FROM users; /* c */",
	} {
		got := Classify(in)
		require.Equal(t, KindRead, got.Kind, in)
		require.Equal(t, 1, got.Statements, in)
	}

	for _, in := range []string{"", ";", " ; ;", "-- c", "/* only */"} {
		got := Classify(in)
		require.Zero(t, got.Statements, in)
		require.Empty(t, got.SQL, in)
	}
}

func TestKindString(t *testing.T) {
	require.Equal(t, "read", KindRead.String())
	require.Equal(t, "write", KindWrite.String())
}
