package device

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		name   string
		output string
		want   Version
		ok     bool
	}{
		{
			name:   "full version token",
			output: "Cisco Adaptive Security Appliance Software Version 9.12(4)8\r\n",
			want:   Version{Major: 9, Minor: 12, Maintenance: 4, Interim: 8},
			ok:     true,
		},
		{
			name:   "no maintenance part",
			output: "Cisco Adaptive Security Appliance Software Version 9.1\r\n",
			want:   Version{Major: 9, Minor: 1},
			ok:     true,
		},
		{
			name:   "old train",
			output: "Cisco Adaptive Security Appliance Software Version 8.4(2)\r\n",
			want:   Version{Major: 8, Minor: 4, Maintenance: 2},
			ok:     true,
		},
		{
			name:   "filter unsupported",
			output: "ERROR: % Invalid input detected at '^' marker.\r\n",
			ok:     false,
		},
		{
			name:   "echo line alone does not count",
			output: "show version | include ^Cisco.*Appliance.*Version\r\n",
			ok:     false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseVersion(tt.output)
			require.Equal(t, tt.ok, ok)
			if ok {
				require.Equal(t, tt.want, got)
			}
		})
	}
}

func TestComparableIsMonotonic(t *testing.T) {
	ordered := []Version{
		{Major: 8, Minor: 4},
		{Major: 9, Minor: 1},
		{Major: 9, Minor: 3},
		{Major: 9, Minor: 12},
		{Major: 10, Minor: 0},
	}
	for i := 1; i < len(ordered); i++ {
		require.Less(t, ordered[i-1].Comparable(), ordered[i].Comparable(),
			"%s must sort before %s", ordered[i-1], ordered[i])
	}
}

func TestAtLeastBackupThreshold(t *testing.T) {
	require.True(t, Version{Major: 9, Minor: 3}.AtLeast(nativeBackupMin))
	require.True(t, Version{Major: 9, Minor: 12, Maintenance: 4}.AtLeast(nativeBackupMin))
	require.True(t, Version{Major: 10, Minor: 0}.AtLeast(nativeBackupMin))
	require.False(t, Version{Major: 9, Minor: 2, Maintenance: 9}.AtLeast(nativeBackupMin))
	require.False(t, Version{Major: 8, Minor: 4}.AtLeast(nativeBackupMin))
}

func TestVersionString(t *testing.T) {
	require.Equal(t, "9.12(4)8", Version{Major: 9, Minor: 12, Maintenance: 4, Interim: 8}.String())
	require.Equal(t, "8.4(2)", Version{Major: 8, Minor: 4, Maintenance: 2}.String())
	require.Equal(t, "9.1", Version{Major: 9, Minor: 1}.String())
}
