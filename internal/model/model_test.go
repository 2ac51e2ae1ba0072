package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRevision_MarshalsAsDecimalString(t *testing.T) {
	r := Revision(1234.5)
	data, err := json.Marshal(r)
	require.NoError(t, err)
	require.Equal(t, `"1234.5"`, string(data))
}

func TestRevision_UnmarshalsStringOrNumber(t *testing.T) {
	var fromString Revision
	require.NoError(t, json.Unmarshal([]byte(`"100"`), &fromString))
	require.Equal(t, Revision(100), fromString)

	var fromNumber Revision
	require.NoError(t, json.Unmarshal([]byte(`100`), &fromNumber))
	require.Equal(t, Revision(100), fromNumber)
}

func TestMerge_StatusCompletedForcesDone(t *testing.T) {
	current := TodoItem{Status: StatusNotStarted, Done: false}
	status := StatusCompleted
	next := Merge(current, ItemPatch{Status: &status})

	require.True(t, next.Done)
	require.Equal(t, StatusCompleted, next.Status)
}

func TestMerge_DoneForcesStatusCompleted(t *testing.T) {
	current := TodoItem{Status: StatusNotStarted, Done: false}
	done := true
	next := Merge(current, ItemPatch{Done: &done})

	require.True(t, next.Done)
	require.Equal(t, StatusCompleted, next.Status)
}

func TestMerge_UndoneDemotesCompletedToInProgress(t *testing.T) {
	current := TodoItem{Status: StatusCompleted, Done: true}
	done := false
	next := Merge(current, ItemPatch{Done: &done})

	require.False(t, next.Done)
	require.Equal(t, StatusInProgress, next.Status)
}

func TestMerge_PreservesFieldsNotInPatch(t *testing.T) {
	current := TodoItem{Name: "Milk", Description: "2%"}
	name := "Oat milk"
	next := Merge(current, ItemPatch{Name: &name})

	require.Equal(t, "Oat milk", next.Name)
	require.Equal(t, "2%", next.Description)
}

func TestListCacheEntry_VisibleItemsExcludesTombstones(t *testing.T) {
	entry := ListCacheEntry{Items: map[string]TodoItem{
		"I1": {ItemID: "I1"},
		"I2": {ItemID: "I2", IsDeleted: true},
	}}

	visible := entry.VisibleItems()
	require.Len(t, visible, 1)
	_, ok := visible["I1"]
	require.True(t, ok)
}

func TestListCacheEntry_CloneIsIndependent(t *testing.T) {
	entry := ListCacheEntry{Items: map[string]TodoItem{"I1": {ItemID: "I1", Name: "Milk"}}}
	clone := entry.Clone()
	clone.Items["I1"] = TodoItem{ItemID: "I1", Name: "Eggs"}

	require.Equal(t, "Milk", entry.Items["I1"].Name)
	require.Equal(t, "Eggs", clone.Items["I1"].Name)
}
