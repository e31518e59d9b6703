package models

type Weather struct {
	Temp     int    `json:"temp"`
	Feels    int    `json:"feels"`
	Desc     string `json:"desc"`
	Icon     string `json:"icon"`
	Wind     int    `json:"wind"`
	WindDir  string `json:"windDir"`
	Pressure int    `json:"pressure"`
	Humidity int    `json:"humidity"`
	Clouds   int    `json:"clouds"`
}
