// Package schematest builds small send-table fixtures shaped like the CS2
// player classes, for decoder tests.
package schematest

import (
	"github.com/markus-wa/demoinfocs-golang/v5/pkg/demoinfocs/msg"
	"google.golang.org/protobuf/proto"
)

// Class ids used by the fixture.
const (
	ControllerClassID int32 = 0
	PawnClassID       int32 = 1
	WeaponClassID     int32 = 2
)

// FieldSpec describes one fixture field.
type FieldSpec struct {
	Name       string
	Type       string
	Encoder    string
	SendNode   string
	Serializer string
	BitCount   int32
	Low, High  *float32
	Flags      *int32
}

// SerializerSpec is a named list of fields.
type SerializerSpec struct {
	Name   string
	Fields []FieldSpec
}

type builder struct {
	m    *msg.CSVCMsg_FlattenedSerializer
	syms map[string]int32
}

func (b *builder) sym(s string) *int32 {
	if i, ok := b.syms[s]; ok {
		return proto.Int32(i)
	}
	i := int32(len(b.m.Symbols))
	b.m.Symbols = append(b.m.Symbols, s)
	b.syms[s] = i
	return proto.Int32(i)
}

// Build encodes serializers in order; nested serializers must come first.
func Build(specs ...SerializerSpec) *msg.CSVCMsg_FlattenedSerializer {
	b := &builder{m: &msg.CSVCMsg_FlattenedSerializer{}, syms: map[string]int32{}}
	for _, s := range specs {
		ser := &msg.ProtoFlattenedSerializerT{
			SerializerNameSym: b.sym(s.Name),
			SerializerVersion: proto.Int32(0),
		}
		for _, f := range s.Fields {
			pf := &msg.ProtoFlattenedSerializerFieldT{
				VarNameSym:  b.sym(f.Name),
				VarTypeSym:  b.sym(f.Type),
				LowValue:    f.Low,
				HighValue:   f.High,
				EncodeFlags: f.Flags,
			}
			if f.BitCount != 0 {
				pf.BitCount = proto.Int32(f.BitCount)
			}
			if f.Encoder != "" {
				pf.VarEncoderSym = b.sym(f.Encoder)
			}
			if f.SendNode != "" {
				pf.SendNodeSym = b.sym(f.SendNode)
			}
			if f.Serializer != "" {
				pf.FieldSerializerNameSym = b.sym(f.Serializer)
				pf.FieldSerializerVersion = proto.Int32(0)
			}
			ser.FieldsIndex = append(ser.FieldsIndex, int32(len(b.m.Fields)))
			b.m.Fields = append(b.m.Fields, pf)
		}
		b.m.Serializers = append(b.m.Serializers, ser)
	}
	return b.m
}

// Field indices of the player fixture, for building field paths.
const (
	PawnHealth = iota
	PawnArmor
	PawnBody
	PawnEyeAngles
	PawnLifeState
	PawnFlags
	PawnScoped
	PawnWalking
	PawnFlashDuration
	PawnWeaponServices
	PawnVelocity
	PawnTeam
	PawnEquipmentValue
	PawnController
)

const (
	BodyCellX = iota
	BodyCellY
	BodyCellZ
	BodyVecX
	BodyVecY
	BodyVecZ
)

const (
	ControllerTeam = iota
	ControllerPawn
	ControllerSteamID
	ControllerName
	ControllerMoney
	ControllerKills
)

const (
	WeaponItemDef = iota
	WeaponClip
	WeaponReserve
)

// PlayerSendTables returns send tables for a controller, a pawn and a rifle.
func PlayerSendTables() *msg.CSVCMsg_FlattenedSerializer {
	return Build(
		SerializerSpec{Name: "CBodyComponentBaseAnimGraph", Fields: []FieldSpec{
			{Name: "m_cellX", Type: "uint16"},
			{Name: "m_cellY", Type: "uint16"},
			{Name: "m_cellZ", Type: "uint16"},
			{Name: "m_vecX", Type: "CNetworkedQuantizedFloat"},
			{Name: "m_vecY", Type: "CNetworkedQuantizedFloat"},
			{Name: "m_vecZ", Type: "CNetworkedQuantizedFloat"},
		}},
		SerializerSpec{Name: "CCSPlayer_WeaponServices", Fields: []FieldSpec{
			{Name: "m_hActiveWeapon", Type: "CHandle< CBasePlayerWeapon >"},
		}},
		SerializerSpec{Name: "CCSPlayerController_InGameMoneyServices", Fields: []FieldSpec{
			{Name: "m_iAccount", Type: "int32"},
		}},
		SerializerSpec{Name: "CCSPlayerPawn", Fields: []FieldSpec{
			{Name: "m_iHealth", Type: "int32"},
			{Name: "m_ArmorValue", Type: "int32"},
			{Name: "CBodyComponent", Type: "CBodyComponent", Serializer: "CBodyComponentBaseAnimGraph"},
			{Name: "m_angEyeAngles", Type: "QAngle"},
			{Name: "m_lifeState", Type: "uint8"},
			{Name: "m_fFlags", Type: "uint32"},
			{Name: "m_bIsScoped", Type: "bool"},
			{Name: "m_bIsWalking", Type: "bool"},
			{Name: "m_flFlashDuration", Type: "float32"},
			{Name: "m_pWeaponServices", Type: "CCSPlayer_WeaponServices*", Serializer: "CCSPlayer_WeaponServices"},
			{Name: "m_vecAbsVelocity", Type: "Vector"},
			{Name: "m_iTeamNum", Type: "uint8"},
			{Name: "m_unCurrentEquipmentValue", Type: "uint16"},
			{Name: "m_hController", Type: "CHandle< CBasePlayerController >"},
		}},
		SerializerSpec{Name: "CCSPlayerController", Fields: []FieldSpec{
			{Name: "m_iTeamNum", Type: "uint8"},
			{Name: "m_hPlayerPawn", Type: "CHandle< CCSPlayerPawn >"},
			{Name: "m_steamID", Type: "uint64"},
			{Name: "m_iszPlayerName", Type: "char[128]"},
			{Name: "m_pInGameMoneyServices", Type: "CCSPlayerController_InGameMoneyServices*", Serializer: "CCSPlayerController_InGameMoneyServices"},
			{Name: "m_vecKills", Type: "CNetworkUtlVectorBase< uint32 >"},
		}},
		SerializerSpec{Name: "CWeaponAK47", Fields: []FieldSpec{
			{Name: "m_iItemDefinitionIndex", Type: "uint16", SendNode: "m_AttributeManager.m_Item"},
			{Name: "m_iClip1", Type: "int32"},
			{Name: "m_pReserveAmmo", Type: "int32[2]"},
		}},
	)
}

// PlayerClassInfo binds the fixture's class ids.
func PlayerClassInfo() *msg.CDemoClassInfo {
	return &msg.CDemoClassInfo{Classes: []*msg.CDemoClassInfoClassT{
		{ClassId: proto.Int32(ControllerClassID), NetworkName: proto.String("CCSPlayerController")},
		{ClassId: proto.Int32(PawnClassID), NetworkName: proto.String("CCSPlayerPawn")},
		{ClassId: proto.Int32(WeaponClassID), NetworkName: proto.String("CWeaponAK47")},
	}}
}
