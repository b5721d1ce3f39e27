package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_KindAndName(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		wantKind Kind
		wantName string
	}{
		{
			name:     "function with schema and brackets",
			content:  "CREATE FUNCTION [dbo].[GetTotal] (@id int) RETURNS int AS BEGIN RETURN 1 END",
			wantKind: Function,
			wantName: "GetTotal",
		},
		{
			name:     "view without schema",
			content:  "create view ActiveUsers as select Id from Users",
			wantKind: View,
			wantName: "ActiveUsers",
		},
		{
			name:     "short proc keyword",
			content:  "CREATE PROC sales.usp_Refresh AS SELECT 1",
			wantKind: Procedure,
			wantName: "usp_Refresh",
		},
		{
			name:     "procedure on later line",
			content:  "SET NOCOUNT ON\nGO\ncreate   procedure\n  [usp_Load] as select 1",
			wantKind: Procedure,
			wantName: "usp_Load",
		},
		{
			name:     "user-defined type",
			content:  "CREATE TYPE dbo.IdList AS TABLE (Id int)",
			wantKind: CustomType,
			wantName: "IdList",
		},
		{
			name:     "create or alter",
			content:  "CREATE OR ALTER VIEW dbo.Totals AS SELECT 1 AS x",
			wantKind: View,
			wantName: "Totals",
		},
		{
			name:     "function wins over view in the same text",
			content:  "-- create view Decoy\nCREATE FUNCTION Real() RETURNS int AS BEGIN RETURN 1 END",
			wantKind: Function,
			wantName: "Real",
		},
		{
			name:     "table is not an object we track",
			content:  "CREATE TABLE Users (Id int)",
			wantKind: Unknown,
		},
		{
			name:     "empty content",
			content:  "",
			wantKind: Unknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Parse("x.sql", tt.content, nil)
			assert.Equal(t, tt.wantKind, e.Kind)
			assert.Equal(t, tt.wantName, e.Name)
			assert.Equal(t, "x.sql", e.Path)
		})
	}
}

func TestParse_SchemaBound(t *testing.T) {
	bound := Parse("v.sql", "CREATE VIEW v WITH SCHEMABINDING AS SELECT a FROM dbo.t", nil)
	assert.True(t, bound.SchemaBound)

	notBound := Parse("v.sql", "CREATE VIEW v AS SELECT schemabindingish FROM dbo.t", nil)
	assert.False(t, notBound.SchemaBound)

	typ := Parse("t.sql", "CREATE TYPE Ids AS TABLE (Id int)", nil)
	assert.True(t, typ.SchemaBound)
}

func TestParse_UnknownHasNoWords(t *testing.T) {
	e := Parse("x.sql", "select * from users", nil)
	assert.Equal(t, Unknown, e.Kind)
	assert.Nil(t, e.Words)
}

func TestTokenize(t *testing.T) {
	content := "CREATE VIEW [dbo].[Orders] AS\n" +
		"SELECT o.Id, @local, 42 FROM dbo.OrderLines o -- Customers is ignored\n" +
		"JOIN Products p ON p.Id = o.ProductId"

	words := Tokenize(content)

	for _, want := range []string{"orders", "orderlines", "products", "productid", "id", "o", "p"} {
		assert.Contains(t, words, want)
	}
	for _, unwanted := range []string{"create", "select", "dbo", "42", "@local", "customers", "join"} {
		assert.NotContains(t, words, unwanted)
	}
}

func TestSubstitute(t *testing.T) {
	vars := map[string]string{"DB": "Sales", "Env": "prod"}

	got := Substitute("SELECT * FROM [$(DB)].dbo.t WHERE env = '$(Env)' AND x = '$(DB)' AND y = '$(UNSET)'", vars)

	assert.Equal(t, "SELECT * FROM [Sales].dbo.t WHERE env = 'prod' AND x = 'Sales' AND y = '$(UNSET)'", got)
}

func TestParse_SubstitutesBeforeParsing(t *testing.T) {
	vars := map[string]string{"Name": "RealName"}

	e := Parse("f.sql", "CREATE VIEW $(Name) AS SELECT 1 AS x FROM $(UNSET)", vars)

	require.Equal(t, View, e.Kind)
	assert.Equal(t, "RealName", e.Name)
	assert.Contains(t, e.Content, "$(UNSET)")
	assert.Equal(t, []string{"UNSET"}, Variables(e.Content))
}

func TestEntity_Mentions(t *testing.T) {
	e := Parse("a.sql", "CREATE VIEW a AS SELECT x FROM [dbo].[Base]", nil)

	assert.True(t, e.Mentions("base"))
	assert.True(t, e.Mentions("BASE"))
	assert.False(t, e.Mentions("other"))

	e.ReleaseWords()
	assert.Nil(t, e.Words)
	assert.True(t, e.Mentions("Base"), "falls back to content after release")
}

func TestEntity_DropStatement(t *testing.T) {
	tests := []struct {
		content string
		want    string
	}{
		{"CREATE VIEW v AS SELECT 1 AS x", "DROP VIEW dbo.v"},
		{"CREATE PROC p AS SELECT 1", "DROP PROCEDURE dbo.p"},
		{"CREATE FUNCTION f() RETURNS int AS BEGIN RETURN 1 END", "DROP FUNCTION dbo.f"},
		{"CREATE TYPE Ids AS TABLE (Id int)", "DROP TYPE dbo.Ids"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse("x.sql", tt.content, nil).DropStatement("dbo"))
		})
	}
}

func TestSubstitute_LowerCaseFallback(t *testing.T) {
	vars := map[string]string{"dbname": "Sales"}

	assert.Equal(t, "USE [Sales]", Substitute("USE [$(DbName)]", vars))
}
