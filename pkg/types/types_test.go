package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableName(t *testing.T) {
	tests := []struct {
		name      string
		table     TableName
		namespace string
		qualifier string
	}{
		{"qualified", "ns1:orders", "ns1", "orders"},
		{"default namespace", "orders", DefaultNamespace, "orders"},
		{"explicit default", "default:users", "default", "users"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.namespace, tt.table.Namespace())
			assert.Equal(t, tt.qualifier, tt.table.Qualifier())
		})
	}

	assert.Equal(t, TableName("default:orders"), QualifiedTableName("orders"))
	assert.Equal(t, TableName("ns:orders"), QualifiedTableName("ns:orders"))
}

func TestProgressString(t *testing.T) {
	assert.Equal(t, "no regions for compaction.", ProgressString(0, 0))
	assert.Equal(t, "27.27% (  3 of  11)", ProgressString(3, 11))
	assert.Equal(t, "100.00% ( 10 of  10)", ProgressString(10, 10))
}

func TestClassifyCompactionQueue(t *testing.T) {
	tests := []struct {
		length int
		want   QueueSeverity
	}{
		{0, QueueSeverityNone},
		{15, QueueSeverityNone},
		{16, QueueSeverityLow},
		{50, QueueSeverityLow},
		{51, QueueSeverityNormal},
		{150, QueueSeverityNormal},
		{151, QueueSeverityCritical},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyCompactionQueue(tt.length), "length %d", tt.length)
	}
}

func TestTaskWeightless(t *testing.T) {
	w := 12.5
	weighted := &Task{Region: "r1", Node: "n1", Weight: &w}
	forced := &Task{Region: "r2", Node: "n1"}

	assert.False(t, weighted.Weightless())
	assert.True(t, forced.Weightless())
	assert.Equal(t, "r1@n1 (weight 12.50)", weighted.String())
	assert.Equal(t, "r2@n1", forced.String())
}
