package domain

// Target — управляемый эндпоинт, на который направляются действия реагирования.
// Снапшот справочника неизменяем после загрузки: перезагрузка — это замена
// целого снапшота, а не мутация полей.
type Target struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Description string   `json:"description"`
	OS          string   `json:"os"` // например, "windows-server-2022"
	Aliases     []string `json:"aliases,omitempty"`
}
