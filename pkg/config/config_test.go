package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sls-project/sls/pkg/types"
)

func TestPartitionFileConfigToPartitionConfig(t *testing.T) {
	tests := []struct {
		name    string
		in      PartitionFileConfig
		want    types.BackendKind
		wantErr bool
	}{
		{name: "file backend", in: PartitionFileConfig{Target: "file"}, want: types.BackendFile},
		{name: "store backend", in: PartitionFileConfig{Target: "store"}, want: types.BackendStore},
		{name: "pm backend", in: PartitionFileConfig{Target: "pm"}, want: types.BackendPM},
		{name: "unknown backend", in: PartitionFileConfig{Target: "nvme"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pc, err := tt.in.ToPartitionConfig()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, pc.Target)
		})
	}
}

func TestPartitionFileConfigMode(t *testing.T) {
	full, err := PartitionFileConfig{Target: "file", Mode: ""}.ToPartitionConfig()
	require.NoError(t, err)
	assert.Equal(t, types.ModeFull, full.Mode)

	delta, err := PartitionFileConfig{Target: "file", Mode: "delta"}.ToPartitionConfig()
	require.NoError(t, err)
	assert.Equal(t, types.ModeDelta, delta.Mode)

	_, err = PartitionFileConfig{Target: "file", Mode: "bogus"}.ToPartitionConfig()
	assert.Error(t, err)
}
