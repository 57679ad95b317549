package services

import (
	"fmt"
	"testing"
	"time"

	"wearwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertLog_MostRecentFirstWithTailEviction(t *testing.T) {
	log := NewAlertLog(3)
	for i := 1; i <= 4; i++ {
		log.Record(models.AlertRecord{
			ID:        fmt.Sprintf("a%d", i),
			DeviceID:  "D1",
			Kind:      models.AlertFall,
			Timestamp: testNow.Add(time.Duration(i) * time.Second),
		})
	}

	items := log.Items()
	require.Len(t, items, 3)
	assert.Equal(t, "a4", items[0].ID)
	assert.Equal(t, "a3", items[1].ID)
	assert.Equal(t, "a2", items[2].ID)
}

func TestAlertLog_AssignsIDs(t *testing.T) {
	log := NewAlertLog(5)
	a := log.Record(models.AlertRecord{DeviceID: "D1", Kind: models.AlertHelp})
	b := log.Record(models.AlertRecord{DeviceID: "D1", Kind: models.AlertHelp})

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, b.ID, log.Items()[0].ID)
}

func TestAlertLog_Count(t *testing.T) {
	log := NewAlertLog(10)
	log.Record(models.AlertRecord{DeviceID: "A", Kind: models.AlertFall})
	log.Record(models.AlertRecord{DeviceID: "B", Kind: models.AlertFall})
	log.Record(models.AlertRecord{DeviceID: "A", Kind: models.AlertHelp})

	assert.Equal(t, 3, log.Count(""))
	assert.Equal(t, 2, log.Count("A"))
	assert.Equal(t, 0, log.Count("C"))
}

func TestAlertLog_ItemsAreCopies(t *testing.T) {
	log := NewAlertLog(2)
	log.Record(models.AlertRecord{DeviceID: "A", Kind: models.AlertFall, Magnitude: models.Float(4)})

	items := log.Items()
	*items[0].Magnitude = 1
	items[0].DeviceID = "changed"

	assert.Equal(t, 4.0, *log.Items()[0].Magnitude)
	assert.Equal(t, "A", log.Items()[0].DeviceID)
}
