package graph

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sqlwatch/sqlwatch/internal/entity"
)

// generateViews builds a layered project of n views. Each view after the
// first references up to fanIn earlier views, so the graph is acyclic.
func generateViews(n, fanIn int, seed int64) []*entity.Entity {
	rng := rand.New(rand.NewSource(seed))
	views := make([]*entity.Entity, 0, n)
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("V%04d", i)
		var refs []string
		for k := 0; k < fanIn && i > 0; k++ {
			refs = append(refs, fmt.Sprintf("V%04d", rng.Intn(i)))
		}
		body := "SELECT 1 AS x"
		if len(refs) > 0 {
			body = "SELECT x FROM " + strings.Join(refs, " JOIN ")
		}
		views = append(views, entity.Parse(name+".sql", "CREATE VIEW "+name+" AS "+body, nil))
	}
	return views
}

func TestDependentsOf_DropOrderOnLayeredProject(t *testing.T) {
	g := Build(generateViews(300, 3, 42))
	require.Equal(t, 300, g.Len())
	assert.Empty(t, g.Cycles())

	for _, root := range []string{"V0000", "V0001", "V0010", "V0100"} {
		drop, cycles := g.DependentsOf(root, DropOrder)
		require.Empty(t, cycles)

		create, _ := g.DependentsOf(root, CreateOrder)
		assert.ElementsMatch(t, names(drop), names(create), "both orders visit the same set")

		pos := make(map[string]int, len(drop))
		for i, e := range drop {
			_, dup := pos[e.Name]
			require.False(t, dup, "%s dropped twice", e.Name)
			pos[e.Name] = i
		}
		// Every consumer is dropped before the object it is built on.
		for _, e := range drop {
			for _, d := range g.Dependents(e.Name) {
				assert.Less(t, pos[d.Name], pos[e.Name], "%s must be dropped before %s", d.Name, e.Name)
			}
		}
	}
}

func BenchmarkBuild_1000Views(b *testing.B) {
	views := generateViews(1000, 3, 1)
	contents := make([]string, len(views))
	for i, v := range views {
		contents[i] = v.Content
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		fresh := make([]*entity.Entity, len(contents))
		for j, c := range contents {
			fresh[j] = entity.Parse(views[j].Path, c, nil)
		}
		Build(fresh)
	}
}

func BenchmarkDependentsOf_1000Views(b *testing.B) {
	g := Build(generateViews(1000, 3, 1))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.DependentsOf("V0000", DropOrder)
	}
}

func BenchmarkUpsert_1000Views(b *testing.B) {
	g := Build(generateViews(1000, 3, 1))
	e, _ := g.ByName("V0500")
	content := e.Content

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Upsert(entity.Parse("V0500.sql", content, nil))
	}
}
