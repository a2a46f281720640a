// Package keymap translates HID keyboard usage codes into the key names
// reported to experiment scripts, and back.
package keymap

import "fmt"

// KeyName returns the human-readable name for a HID usage code. Unknown
// codes are rendered as hex so they stay distinguishable downstream.
func KeyName(code uint16) string {
	name, ok := keyNameMap[code]
	if !ok {
		return fmt.Sprintf("0x%x", code)
	}
	return name
}

var keyNameReverseMap = map[string]uint16{}

func init() {
	for code, name := range keyNameMap {
		keyNameReverseMap[name] = code
	}
}

// KeyCode returns the HID usage code for a key name, or 0 when the name
// is unknown.
func KeyCode(name string) uint16 {
	return keyNameReverseMap[name]
}

// keyNameMap covers the HID keyboard/keypad usage page (0x07). Names
// follow the conventions of experiment scripting environments: letters
// and digits are bare, everything else is a lowercase word.
var keyNameMap = map[uint16]string{
	0x04: "a", 0x05: "b", 0x06: "c", 0x07: "d",
	0x08: "e", 0x09: "f", 0x0a: "g", 0x0b: "h",
	0x0c: "i", 0x0d: "j", 0x0e: "k", 0x0f: "l",
	0x10: "m", 0x11: "n", 0x12: "o", 0x13: "p",
	0x14: "q", 0x15: "r", 0x16: "s", 0x17: "t",
	0x18: "u", 0x19: "v", 0x1a: "w", 0x1b: "x",
	0x1c: "y", 0x1d: "z",

	0x1e: "1", 0x1f: "2", 0x20: "3", 0x21: "4", 0x22: "5",
	0x23: "6", 0x24: "7", 0x25: "8", 0x26: "9", 0x27: "0",

	0x28: "return",
	0x29: "escape",
	0x2a: "backspace",
	0x2b: "tab",
	0x2c: "space",
	0x2d: "minus",
	0x2e: "equal",
	0x2f: "bracketleft",
	0x30: "bracketright",
	0x31: "backslash",
	0x33: "semicolon",
	0x34: "apostrophe",
	0x35: "grave",
	0x36: "comma",
	0x37: "period",
	0x38: "slash",
	0x39: "capslock",

	0x3a: "f1", 0x3b: "f2", 0x3c: "f3", 0x3d: "f4",
	0x3e: "f5", 0x3f: "f6", 0x40: "f7", 0x41: "f8",
	0x42: "f9", 0x43: "f10", 0x44: "f11", 0x45: "f12",

	0x46: "printscreen",
	0x47: "scrolllock",
	0x48: "pause",
	0x49: "insert",
	0x4a: "home",
	0x4b: "pageup",
	0x4c: "delete",
	0x4d: "end",
	0x4e: "pagedown",
	0x4f: "right",
	0x50: "left",
	0x51: "down",
	0x52: "up",

	0x53: "numlock",
	0x54: "numdivide",
	0x55: "nummultiply",
	0x56: "numsubtract",
	0x57: "numadd",
	0x58: "numenter",
	0x59: "num1", 0x5a: "num2", 0x5b: "num3",
	0x5c: "num4", 0x5d: "num5", 0x5e: "num6",
	0x5f: "num7", 0x60: "num8", 0x61: "num9",
	0x62: "num0",
	0x63: "numdecimal",

	0xe0: "lctrl",
	0xe1: "lshift",
	0xe2: "lalt",
	0xe3: "lmeta",
	0xe4: "rctrl",
	0xe5: "rshift",
	0xe6: "ralt",
	0xe7: "rmeta",
}
