package datamodel

// Well-known cluster IDs.
const (
	ClusterIdentify         ClusterID = 0x0003
	ClusterOnOff            ClusterID = 0x0006
	ClusterBasicInformation ClusterID = 0x0028
	ClusterWindowCovering   ClusterID = 0x0102
)

// Global attribute IDs, present on every cluster instance.
const (
	GlobalAttrFeatureMap      AttributeID = 0xFFFC
	GlobalAttrClusterRevision AttributeID = 0xFFFD
)

// Basic Information attribute IDs.
const (
	AttrVendorName            AttributeID = 0x0001
	AttrVendorID              AttributeID = 0x0002
	AttrProductName           AttributeID = 0x0003
	AttrProductID             AttributeID = 0x0004
	AttrNodeLabel             AttributeID = 0x0005
	AttrSoftwareVersionString AttributeID = 0x000A
	AttrSerialNumber          AttributeID = 0x000F
)

// Identify attribute IDs.
const (
	AttrIdentifyTime AttributeID = 0x0000
	AttrIdentifyType AttributeID = 0x0001
)

// On/Off attribute IDs.
const (
	AttrOnOff              AttributeID = 0x0000
	AttrGlobalSceneControl AttributeID = 0x4000
	AttrOnTime             AttributeID = 0x4001
	AttrOffWaitTime        AttributeID = 0x4002
	AttrStartUpOnOff       AttributeID = 0x4003
)

// Window Covering attribute IDs.
const (
	AttrWindowCoveringType      AttributeID = 0x0000
	AttrConfigStatus            AttributeID = 0x0007
	AttrOperationalStatus       AttributeID = 0x000A
	AttrTargetLiftPercent100ths AttributeID = 0x000B
	AttrEndProductType          AttributeID = 0x000D
	AttrCurrentLiftPercent100ths AttributeID = 0x000E
	AttrWindowCoveringMode      AttributeID = 0x0017
)

// DeviceTypeID identifies the device kind an endpoint implements.
type DeviceTypeID uint32

// Well-known device type IDs.
const (
	DeviceTypeRootNode       DeviceTypeID = 0x0016
	DeviceTypeOnOffLight     DeviceTypeID = 0x0100
	DeviceTypeOnOffPluginUnit DeviceTypeID = 0x010A
	DeviceTypeWindowCovering DeviceTypeID = 0x0202
)

// DeviceTypeName returns a human-readable name for a device type.
func DeviceTypeName(id DeviceTypeID) string {
	switch id {
	case DeviceTypeRootNode:
		return "root_node"
	case DeviceTypeOnOffLight:
		return "on_off_light"
	case DeviceTypeOnOffPluginUnit:
		return "on_off_plugin_unit"
	case DeviceTypeWindowCovering:
		return "window_covering"
	default:
		return "unknown"
	}
}

// GlobalAttributes returns the attribute definitions appended to every
// instantiated cluster.
func GlobalAttributes() []AttributeDef {
	return []AttributeDef{
		{ID: GlobalAttrFeatureMap, Name: "FeatureMap", Type: TypeBitmap32, Access: AccessRead},
		{ID: GlobalAttrClusterRevision, Name: "ClusterRevision", Type: TypeUint16, Access: AccessRead},
	}
}

var BasicInformation = ClusterDef{
	ID:   ClusterBasicInformation,
	Name: "Basic Information",
	Attributes: []AttributeDef{
		{ID: AttrVendorName, Name: "VendorName", Type: TypeString, Access: AccessRead},
		{ID: AttrVendorID, Name: "VendorID", Type: TypeUint16, Access: AccessRead},
		{ID: AttrProductName, Name: "ProductName", Type: TypeString, Access: AccessRead},
		{ID: AttrProductID, Name: "ProductID", Type: TypeUint16, Access: AccessRead},
		{ID: AttrNodeLabel, Name: "NodeLabel", Type: TypeString, Access: AccessRead | AccessWrite | AccessNonvolatile},
		{ID: AttrSoftwareVersionString, Name: "SoftwareVersionString", Type: TypeString, Access: AccessRead},
		{ID: AttrSerialNumber, Name: "SerialNumber", Type: TypeString, Access: AccessRead},
	},
}

var Identify = ClusterDef{
	ID:   ClusterIdentify,
	Name: "Identify",
	Attributes: []AttributeDef{
		{ID: AttrIdentifyTime, Name: "IdentifyTime", Type: TypeUint16, Access: AccessRead | AccessWrite},
		{ID: AttrIdentifyType, Name: "IdentifyType", Type: TypeEnum8, Access: AccessRead},
	},
}

var OnOff = ClusterDef{
	ID:   ClusterOnOff,
	Name: "On/Off",
	Attributes: []AttributeDef{
		{ID: AttrOnOff, Name: "OnOff", Type: TypeBool, Access: AccessRead | AccessWrite | AccessReport | AccessNonvolatile},
		{ID: AttrGlobalSceneControl, Name: "GlobalSceneControl", Type: TypeBool, Access: AccessRead},
		{ID: AttrOnTime, Name: "OnTime", Type: TypeUint16, Access: AccessRead | AccessWrite},
		{ID: AttrOffWaitTime, Name: "OffWaitTime", Type: TypeUint16, Access: AccessRead | AccessWrite},
		{ID: AttrStartUpOnOff, Name: "StartUpOnOff", Type: TypeEnum8, Access: AccessRead | AccessWrite | AccessNonvolatile},
	},
}

var WindowCovering = ClusterDef{
	ID:   ClusterWindowCovering,
	Name: "Window Covering",
	Attributes: []AttributeDef{
		{ID: AttrWindowCoveringType, Name: "Type", Type: TypeEnum8, Access: AccessRead},
		{ID: AttrConfigStatus, Name: "ConfigStatus", Type: TypeBitmap8, Access: AccessRead},
		{ID: AttrOperationalStatus, Name: "OperationalStatus", Type: TypeBitmap8, Access: AccessRead | AccessWrite | AccessReport},
		{ID: AttrTargetLiftPercent100ths, Name: "TargetPositionLiftPercent100ths", Type: TypeUint16, Access: AccessRead | AccessWrite | AccessReport},
		{ID: AttrEndProductType, Name: "EndProductType", Type: TypeEnum8, Access: AccessRead},
		{ID: AttrCurrentLiftPercent100ths, Name: "CurrentPositionLiftPercent100ths", Type: TypeUint16, Access: AccessRead | AccessReport | AccessNonvolatile},
		{ID: AttrWindowCoveringMode, Name: "Mode", Type: TypeBitmap8, Access: AccessRead | AccessWrite | AccessNonvolatile},
	},
}

var builtinClusters = []ClusterDef{
	BasicInformation,
	Identify,
	OnOff,
	WindowCovering,
}
