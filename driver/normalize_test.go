package driver_test

import (
	"testing"

	"github.com/kramer-control/brain-client-go/driver"
	"github.com/stretchr/testify/require"
)

func sampleDescriptor() *driver.Descriptor {
	return &driver.Descriptor{
		Categories: []driver.CategoryDescriptor{
			{
				Name:        "Power",
				ReferenceID: "cat.power",
				States: []driver.StateDescriptor{
					{ReferenceID: "state.power", Name: "SYSTEM_STATE", Type: "string"},
					{ReferenceID: "state.volume", Name: "VOLUME", Type: "number", DefaultValue: "10"},
				},
				Capabilities: []driver.CapabilityDescriptor{
					{
						ReferenceID: "cap.power",
						Name:        "Power",
						Commands: []driver.CommandDescriptor{
							{
								ReferenceID: "cmd.set_power",
								Name:        "SET_SYSTEM_USE",
								Codes: []driver.CodeDescriptor{
									{StateReferences: []string{"state.power"}},
								},
							},
							{
								ReferenceID: "cmd.set_volume",
								Name:        "SET_VOLUME",
								Codes: []driver.CodeDescriptor{
									{
										StateReferences: []string{"state.volume"},
										Parameters: []driver.ParameterDescriptor{
											{Name: "RAMP", Type: "boolean"},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}
}

func TestNormalizeBuildsCatalog(t *testing.T) {
	catalog, err := driver.Normalize(sampleDescriptor())
	require.NoError(t, err)
	require.Len(t, catalog, 1)

	cat := catalog["cat.power"]
	require.NotNil(t, cat)
	require.Len(t, cat.States, 2)
	require.Len(t, cat.Commands, 2)

	volume := cat.States["state.volume"]
	require.Equal(t, "10", volume.Value)
	require.Equal(t, 10.0, volume.NormalizedValue)

	var setVolume *driver.Command
	for _, c := range cat.Commands {
		if c.ID == "cmd.set_volume" {
			setVolume = c
		}
	}
	require.NotNil(t, setVolume)
	require.Len(t, setVolume.Params, 2)
	require.True(t, setVolume.Params["VOLUME"].Dynamic)
	require.Equal(t, "state.volume", setVolume.Params["VOLUME"].StateID)
	require.False(t, setVolume.Params["RAMP"].Dynamic)
	require.Equal(t, "boolean", setVolume.Params["RAMP"].Type)
	require.Contains(t, setVolume.States, "state.volume")
}

func TestNormalizeNilDescriptor(t *testing.T) {
	_, err := driver.Normalize(nil)
	require.ErrorIs(t, err, driver.ErrNilDescriptor)
}

func TestNormalizeDuplicateReferenceIDLastWriteWins(t *testing.T) {
	desc := &driver.Descriptor{
		Categories: []driver.CategoryDescriptor{
			{
				Name:        "Dup",
				ReferenceID: "cat.dup",
				States: []driver.StateDescriptor{
					{ReferenceID: "s1", Name: "FIRST", Type: "string"},
					{ReferenceID: "s1", Name: "SECOND", Type: "string"},
				},
			},
		},
	}
	catalog, err := driver.Normalize(desc)
	require.NoError(t, err)
	require.Equal(t, "SECOND", catalog["cat.dup"].States["s1"].Name)
}
