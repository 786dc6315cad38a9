package composer

import (
	"fmt"
)

/*
Config errors raised by the loader when a project document cannot be
accepted. Each type provides a meaningful, human-readable string
representation in English.
*/

// An error raised when a scene declares an unknown type string.
type UnrecognizedSceneType struct {
	TypeString string
	SceneIndex int
}

func NewUnrecognizedSceneType(sceneIndex int, typeString string) *UnrecognizedSceneType {
	return &UnrecognizedSceneType{
		TypeString: typeString,
		SceneIndex: sceneIndex,
	}
}

func (e UnrecognizedSceneType) Error() string {
	return fmt.Sprintf("scene %d has unrecognized type: %q", e.SceneIndex, e.TypeString)
}

// An error raised when a field holds a value the engine cannot use.
type MalformedField struct {
	ClassName string
	FieldName string
	Reason    string
}

func NewMalformedField(className, fieldName, reason string) *MalformedField {
	return &MalformedField{
		ClassName: className,
		FieldName: fieldName,
		Reason:    reason,
	}
}

func (e MalformedField) Error() string {
	return fmt.Sprintf("In %s, %s field is malformed: %s", e.ClassName, e.FieldName, e.Reason)
}

/*
An error raised when the scene list has an impossible shape, such as a
transition at the start or end of the project or two transitions in a row.
*/
type InvalidSceneTopology struct {
	SceneIndex int
	Reason     string
}

func NewInvalidSceneTopology(sceneIndex int, reason string) *InvalidSceneTopology {
	return &InvalidSceneTopology{
		SceneIndex: sceneIndex,
		Reason:     reason,
	}
}

func (e InvalidSceneTopology) Error() string {
	return fmt.Sprintf("scene %d: %s", e.SceneIndex, e.Reason)
}
