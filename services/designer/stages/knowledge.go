// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import "strings"

// designTips holds interior design principles per room type.
var designTips = map[string][]string{
	"bedroom": {
		"Bedrooms should prioritize comfort and tranquility. Use soft, calming colors like blues, grays, or warm neutrals.",
		"Place the bed as the focal point, ideally against the longest wall and away from the door.",
		"Include bedside tables on both sides for balance and functionality.",
		"Layer lighting: overhead for general use, bedside lamps for reading, and accent lighting for ambiance.",
		"Add soft textiles like rugs, curtains, and throw pillows to absorb sound and create warmth.",
	},
	"living_room": {
		"Living rooms should balance comfort with style. Create conversation areas with seating facing each other.",
		"Use the 60-30-10 color rule: 60% dominant color, 30% secondary, 10% accent.",
		"Place the largest piece of furniture (usually sofa) first, then build around it.",
		"Create a focal point: fireplace, TV, art piece, or statement furniture.",
		"Mix textures and materials to add visual interest: wood, metal, fabric, glass.",
	},
	"kitchen": {
		"Follow the kitchen work triangle principle: sink, stove, and refrigerator should form an efficient triangle.",
		"Maximize counter space and ensure adequate task lighting over work areas.",
		"Use durable, easy-to-clean materials for high-traffic areas.",
		"Include both closed storage and open shelving for balance.",
		"Consider an island or peninsula for additional prep space and casual dining.",
	},
	"office": {
		"Position desk near natural light source but avoid glare on computer screens.",
		"Invest in ergonomic furniture: adjustable chair, proper desk height.",
		"Include both task lighting and ambient lighting to reduce eye strain.",
		"Add plants to improve air quality and create a calming environment.",
		"Use vertical storage solutions to maximize floor space.",
	},
}

var generalTips = []string{
	"Focus on creating a balanced and functional space.",
	"Use appropriate lighting for the room's purpose.",
	"Choose a cohesive color scheme.",
	"Consider traffic flow and furniture placement.",
}

var styleGuides = map[string][]string{
	"modern": {
		"Use clean lines and minimal ornamentation",
		"Stick to neutral colors with bold accent pieces",
		"Choose furniture with geometric shapes",
		"Incorporate materials like glass, steel, and concrete",
	},
	"scandinavian": {
		"Embrace minimalism with functional furniture",
		"Use light woods like pine, ash, or birch",
		"Keep color palette light and neutral",
		"Add cozy textiles for 'hygge' feeling",
	},
	"traditional": {
		"Use rich, warm colors and classic patterns",
		"Choose furniture with curved lines and ornate details",
		"Layer different textures and fabrics",
		"Include antiques or vintage pieces",
	},
	"industrial": {
		"Expose raw materials like brick, concrete, and metal",
		"Use a neutral color palette with darker tones",
		"Choose furniture with metal frames and reclaimed wood",
		"Add Edison bulb lighting for ambiance",
	},
}

// DesignTips returns design principles for a room type ("Living Room",
// "living room" and "living_room" are the same). Unknown types get general
// advice.
func DesignTips(roomType string) []string {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(roomType)), " ", "_")
	tips, ok := designTips[key]
	if !ok {
		tips = generalTips
	}
	return append([]string(nil), tips...)
}

// StyleGuide returns recommendations for a named design style.
func StyleGuide(style string) []string {
	lower := strings.ToLower(style)
	for _, key := range []string{"modern", "scandinavian", "traditional", "industrial"} {
		if strings.Contains(lower, key) {
			return append([]string(nil), styleGuides[key]...)
		}
	}
	return []string{"Focus on creating a cohesive look that reflects your personal style"}
}
