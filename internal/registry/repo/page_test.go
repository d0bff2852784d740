package repo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chirino/node-service/internal/model"
)

func titled(uuid, title string) model.Node {
	return model.Node{UUID: uuid, Title: title}
}

func TestSortNodes(t *testing.T) {
	nodes := []model.Node{
		titled("u-3", "cherry"),
		titled("u-2", "apple"),
		titled("u-1", "Apple"),
		titled("u-4", "Banana"),
	}
	SortNodes(nodes)

	var uuids []string
	for _, n := range nodes {
		uuids = append(uuids, n.UUID)
	}
	// case-insensitive title first, uuid breaking the "apple" tie
	assert.Equal(t, []string{"u-1", "u-2", "u-4", "u-3"}, uuids)
}

func TestPage(t *testing.T) {
	nodes := []model.Node{
		titled("u-1", "a"), titled("u-2", "b"), titled("u-3", "c"),
		titled("u-4", "d"), titled("u-5", "e"),
	}

	assert.Len(t, Page(nodes, 4, 1), 4)
	assert.Equal(t, "u-5", Page(nodes, 4, 2)[0].UUID)
	assert.Empty(t, Page(nodes, 4, 3))
	assert.Len(t, Page(nodes, 5, 1), 5)
	assert.Empty(t, Page(nodes, 5, 2))
	assert.Empty(t, Page(nodes, 10, 2))
}

func TestValidatePageArgs(t *testing.T) {
	assert.NoError(t, ValidatePageArgs(1, 1))
	assert.Error(t, ValidatePageArgs(0, 1))
	assert.Error(t, ValidatePageArgs(-1, 1))
	assert.Error(t, ValidatePageArgs(1, 0))
}
